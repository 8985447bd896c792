package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codecrafters-redis-go/internal/broadcast"
	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/config"
	"github.com/codecrafters-redis-go/internal/expiry"
	"github.com/codecrafters-redis-go/internal/handshake"
	"github.com/codecrafters-redis-go/internal/keyspace"
	"github.com/codecrafters-redis-go/internal/logger"
	"github.com/codecrafters-redis-go/internal/periodic"
	"github.com/codecrafters-redis-go/internal/processor"
	"github.com/codecrafters-redis-go/internal/replication"
	"github.com/codecrafters-redis-go/internal/server"
)

func main() {
	logger.Init()

	cfg := config.New()
	cfg.ParseFlags()

	now := clock.Wall()
	store := keyspace.NewWithOptions(now, nil, time.Minute)
	store.UseScheduler(expiry.New(now))

	role := replication.RoleMaster
	if cfg.IsReplica() {
		role = replication.RoleSlave
	}
	registry := replication.NewRegistry(role, replication.GenerateReplID())

	hub := broadcast.NewHub(broadcast.DefaultQueueDepth)

	deps := &processor.Deps{
		Keyspace:  store,
		Config:    cfg,
		Registry:  registry,
		Broadcast: hub,
		Clock:     now,
	}

	if err := cfg.LoadRDBFromDisk(store.SetSimple); err != nil {
		logger.Error("startup: failed to load RDB file: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.IsReplica() {
		host, port := cfg.GetReplicaInfo()
		driver := handshake.New(fmt.Sprintf("%s:%s", host, port), cfg.Port, deps)
		go driver.Run(ctx)
	} else {
		go periodic.RunLeaderTicker(ctx, periodic.DefaultPeriod, hub)
	}

	srv := server.New(fmt.Sprintf("0.0.0.0:%d", cfg.Port), deps)
	if err := srv.Start(); err != nil {
		logger.Error("startup: failed to start server: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
		srv.Stop()
		store.Close()
	}()

	srv.Wait()
}
