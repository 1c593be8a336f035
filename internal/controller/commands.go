package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCommand is returned for lines that are not a known command.
var ErrInvalidCommand = errors.New("invalid command")

// CommandKind identifies a console command.
type CommandKind int

const (
	CommandAdd CommandKind = iota + 1
	CommandList
	CommandRemove
)

func (k CommandKind) String() string {
	switch k {
	case CommandAdd:
		return "add"
	case CommandList:
		return "list"
	case CommandRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Command is a parsed console line.
type Command struct {
	Kind CommandKind
	// Src, Dst and BW are set for add.
	Src string
	Dst string
	BW  int64
	// Target is the intent id for remove; All is set for "remove all".
	Target string
	All    bool
}

// ParseCommand parses one of
//
//	add <src> <dst> <bw>
//	list | ls
//	rm | delete | remove <intent-id> | all
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrInvalidCommand)
	}

	switch verb := strings.ToLower(fields[0]); verb {
	case "add":
		if len(fields) != 4 {
			return Command{}, fmt.Errorf("%w: usage: add <src> <dst> <bw>", ErrInvalidCommand)
		}
		bw, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil || bw <= 0 {
			return Command{}, fmt.Errorf("%w: bandwidth %q must be a positive integer", ErrInvalidCommand, fields[3])
		}
		return Command{Kind: CommandAdd, Src: fields[1], Dst: fields[2], BW: bw}, nil

	case "list", "ls":
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrInvalidCommand, verb)
		}
		return Command{Kind: CommandList}, nil

	case "rm", "delete", "remove":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: usage: %s <intent-id>|all", ErrInvalidCommand, verb)
		}
		if strings.EqualFold(fields[1], "all") {
			return Command{Kind: CommandRemove, All: true}, nil
		}
		return Command{Kind: CommandRemove, Target: fields[1]}, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, fields[0])
	}
}
