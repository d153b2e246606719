// Package automaxprocs aligns GOMAXPROCS with the container CPU quota and
// routes the library's log output through the application logger.
package automaxprocs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/cockroachdb/errors"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

var undo func()

// Init sets GOMAXPROCS from the Linux CPU quota. It is a no-op on non-Linux
// systems and in environments without a configured quota.
func Init() error {
	log := logger.With(
		slogx.String("package", "automaxprocs"),
		slogx.Int("prev_maxprocs", Current()),
	)

	revert, err := maxprocs.Set(
		maxprocs.Logger(func(format string, v ...any) {
			log.LogAttrs(context.Background(), slog.LevelInfo, fmt.Sprintf(format, v...))
		}),
		maxprocs.Min(1),
	)
	if err != nil {
		return errors.WithStack(err)
	}
	undo = revert
	return nil
}

// Undo restores GOMAXPROCS to its value before Init.
func Undo() {
	if undo != nil {
		undo()
	}
}

// Current returns the current GOMAXPROCS value.
func Current() int {
	return runtime.GOMAXPROCS(0)
}
