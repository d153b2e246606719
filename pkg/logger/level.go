package logger

import (
	"fmt"
	"log/slog"
)

const (
	LevelPanic = slog.Level(14)
	LevelFatal = slog.Level(16)
)

// levelAttrReplacer renames the custom levels above slog.LevelError
// so they don't render as "ERROR+N".
func levelAttrReplacer(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 && attr.Key == slog.LevelKey {
		level, ok := attr.Value.Any().(slog.Level)
		if !ok {
			return attr
		}
		switch {
		case level >= LevelFatal:
			attr.Value = slog.StringValue(appendDelta("FATAL", level-LevelFatal))
		case level >= LevelPanic:
			attr.Value = slog.StringValue(appendDelta("PANIC", level-LevelPanic))
		}
	}
	return attr
}

func appendDelta(base string, delta slog.Level) string {
	if delta == 0 {
		return base
	}
	return fmt.Sprintf("%s%+d", base, delta)
}
