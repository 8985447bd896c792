// Package commands maps a fully decoded resp.Value onto a typed Command,
// performing every semantic conversion the grammar owns (EX/PX to absolute
// instants, REPLCONF sub-commands, PSYNC arguments) so that nothing
// downstream re-parses wire tokens.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codecrafters-redis-go/internal/clock"
	"github.com/codecrafters-redis-go/internal/errors"
	"github.com/codecrafters-redis-go/internal/keyspace"
	"github.com/codecrafters-redis-go/internal/resp"
)

// Kind discriminates the shape of a Command.
type Kind int

const (
	Unsupported Kind = iota
	Ping
	CommandDocs
	Echo
	Set
	Get
	Del
	MGet
	Strlen
	Append
	ConfigGet
	Keys
	Info
	ReplConfListeningPort
	ReplConfCapa
	ReplConfGetAck
	ReplConfAck
	Psync
	Fullresync
	RDB
	Wait
)

// Command is a tagged union over every recognized request shape. Only the
// fields relevant to Kind are populated.
type Command struct {
	Kind Kind

	// Echo, ConfigGet, Keys (pattern), Info (section), ReplConfGetAck
	// (always "*")
	Str string

	// Set, Get, Strlen, Append (key in Keys[0], Value for Set/Append),
	// Del/MGet (Keys)
	Keys  []string
	Value string
	Set   keyspace.SetParams

	// ReplConfListeningPort
	Port uint16

	// ReplConfAck
	Offset int64

	// Psync
	ReplID       string
	PsyncOffset  int64

	// Fullresync
	FullresyncID     string
	FullresyncOffset int64

	// RDB
	RDBBytes []byte

	// Wait
	NumReplicas int
	TimeoutMs   int64
}

// Parse converts a decoded frame into a Command. now is the clock used to
// turn EX/PX relative input into absolute instants, per the grammar's
// "convert at parse time, not later" rule.
func Parse(v resp.Value, now clock.Clock) (Command, error) {
	switch v.Kind {
	case resp.SimpleString:
		if strings.HasPrefix(v.Str, "FULLRESYNC ") {
			return parseFullresync(v.Str)
		}
		return Command{}, fmt.Errorf("commands: unrecognised simple string %q", v.Str)

	case resp.Rdb:
		return Command{Kind: RDB, RDBBytes: v.Bulk}, nil

	case resp.Array:
		return parseArray(v, now)

	default:
		return Command{}, fmt.Errorf("commands: cannot parse frame of kind %v as a command", v.Kind)
	}
}

func parseFullresync(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Command{}, fmt.Errorf("commands: malformed FULLRESYNC line %q", line)
	}
	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("commands: malformed FULLRESYNC offset %q", fields[2])
	}
	return Command{Kind: Fullresync, FullresyncID: fields[1], FullresyncOffset: offset}, nil
}

func parseArray(v resp.Value, now clock.Clock) (Command, error) {
	name, err := v.CommandName()
	if err != nil {
		return Command{}, err
	}
	args := v.Args()
	upper := strings.ToUpper(name)

	switch upper {
	case "PING":
		return Command{Kind: Ping}, nil

	case "COMMAND":
		return Command{Kind: CommandDocs}, nil

	case "ECHO":
		if len(args) != 1 {
			return Command{}, errors.WrongNumberOfArguments("echo")
		}
		return Command{Kind: Echo, Str: args[0]}, nil

	case "SET":
		return parseSet(args, now)

	case "GET":
		if len(args) != 1 {
			return Command{}, errors.WrongNumberOfArguments("get")
		}
		return Command{Kind: Get, Keys: args}, nil

	case "DEL":
		if len(args) < 1 {
			return Command{}, errors.WrongNumberOfArguments("del")
		}
		return Command{Kind: Del, Keys: args}, nil

	case "MGET":
		if len(args) < 1 {
			return Command{}, errors.WrongNumberOfArguments("mget")
		}
		return Command{Kind: MGet, Keys: args}, nil

	case "STRLEN":
		if len(args) != 1 {
			return Command{}, errors.WrongNumberOfArguments("strlen")
		}
		return Command{Kind: Strlen, Keys: args}, nil

	case "APPEND":
		if len(args) != 2 {
			return Command{}, errors.WrongNumberOfArguments("append")
		}
		return Command{Kind: Append, Keys: args[:1], Value: args[1]}, nil

	case "CONFIG":
		if len(args) != 2 || strings.ToUpper(args[0]) != "GET" {
			return Command{}, errors.ErrUnsupportedParameter
		}
		return Command{Kind: ConfigGet, Str: args[1]}, nil

	case "KEYS":
		if len(args) != 1 {
			return Command{}, errors.WrongNumberOfArguments("keys")
		}
		return Command{Kind: Keys, Str: args[0]}, nil

	case "INFO":
		section := ""
		if len(args) > 0 {
			section = args[0]
		}
		return Command{Kind: Info, Str: section}, nil

	case "REPLCONF":
		return parseReplConf(args)

	case "PSYNC":
		if len(args) != 2 {
			return Command{}, errors.WrongNumberOfArguments("psync")
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("commands: malformed PSYNC offset %q", args[1])
		}
		return Command{Kind: Psync, ReplID: args[0], PsyncOffset: offset}, nil

	case "WAIT":
		if len(args) != 2 {
			return Command{}, errors.WrongNumberOfArguments("wait")
		}
		numReplicas, err := strconv.Atoi(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("commands: malformed WAIT numreplicas %q", args[0])
		}
		timeoutMs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("commands: malformed WAIT timeout %q", args[1])
		}
		return Command{Kind: Wait, NumReplicas: numReplicas, TimeoutMs: timeoutMs}, nil

	default:
		return Command{Kind: Unsupported}, nil
	}
}

func parseSet(args []string, now clock.Clock) (Command, error) {
	if len(args) < 2 {
		return Command{}, errors.WrongNumberOfArguments("set")
	}
	params := keyspace.SetParams{Key: args[0], Value: args[1]}

	i := 2
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "EX":
			if i+1 >= len(args) {
				return Command{}, errors.InvalidExpireTime("set")
			}
			seconds, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return Command{}, errors.InvalidExpireTime("set")
			}
			expiry := now().Add(time.Duration(seconds) * time.Second)
			params.Expiry = &expiry
			i += 2

		case "PX":
			if i+1 >= len(args) {
				return Command{}, errors.InvalidExpireTime("set")
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return Command{}, errors.InvalidExpireTime("set")
			}
			expiry := now().Add(time.Duration(ms) * time.Millisecond)
			params.Expiry = &expiry
			i += 2

		case "NX":
			params.Mode = keyspace.ModeNX
			i++

		case "XX":
			params.Mode = keyspace.ModeXX
			i++

		case "GET":
			params.ReturnPrevious = true
			i++

		default:
			return Command{}, errors.ErrSyntaxError
		}
	}

	return Command{Kind: Set, Keys: []string{params.Key}, Value: params.Value, Set: params}, nil
}

func parseReplConf(args []string) (Command, error) {
	if len(args) < 1 {
		return Command{}, errors.WrongNumberOfArguments("replconf")
	}
	switch strings.ToLower(args[0]) {
	case "listening-port":
		if len(args) != 2 {
			return Command{}, errors.WrongNumberOfArguments("replconf")
		}
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return Command{}, fmt.Errorf("commands: malformed listening-port %q", args[1])
		}
		return Command{Kind: ReplConfListeningPort, Port: uint16(port)}, nil

	case "capa":
		// Capabilities themselves are discarded; only the tag matters.
		return Command{Kind: ReplConfCapa}, nil

	case "getack":
		if len(args) != 2 || args[1] != "*" {
			return Command{}, errors.ErrSyntaxError
		}
		return Command{Kind: ReplConfGetAck, Str: "*"}, nil

	case "ack":
		if len(args) != 2 {
			return Command{}, errors.WrongNumberOfArguments("replconf")
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("commands: malformed ACK offset %q", args[1])
		}
		return Command{Kind: ReplConfAck, Offset: offset}, nil

	default:
		// Unknown REPLCONF sub-parameters are never fatal; the processor
		// acknowledges them with +OK.
		return Command{Kind: ReplConfCapa}, nil
	}
}
