package engine

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a logger threshold. Values line up with slog.Level so records can
// be handed to slog handlers without translation.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
	LevelOff   Level = 1 << 30
)

// InheritToken is the level token that removes an explicit level so the
// logger inherits from its nearest ancestor.
const InheritToken = "DEFAULT"

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Slog returns the equivalent slog level.
func (l Level) Slog() slog.Level {
	return slog.Level(l)
}

// ParseLevel converts a level token into a Level. The InheritToken parses
// successfully with inherit set to true and a zero Level.
func ParseLevel(token string) (lvl Level, inherit bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "TRACE", "ALL":
		return LevelTrace, false, nil
	case "DEBUG":
		return LevelDebug, false, nil
	case "INFO":
		return LevelInfo, false, nil
	case "WARN", "WARNING":
		return LevelWarn, false, nil
	case "ERROR", "FATAL":
		return LevelError, false, nil
	case "OFF":
		return LevelOff, false, nil
	case InheritToken:
		return 0, true, nil
	default:
		return 0, false, fmt.Errorf("unknown level %q", token)
	}
}
