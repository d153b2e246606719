package logger

import (
	"fmt"
	"log/slog"

	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

// errorAttrReplacer expands error attributes with a verbose rendering
// (wrap chain and stack trace from cockroachdb/errors) on debug level.
func errorAttrReplacer(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 || attr.Key != slogx.ErrorKey {
		return attr
	}
	err, ok := attr.Value.Any().(error)
	if !ok || err == nil {
		return attr
	}
	if lvl.Level() > slog.LevelDebug {
		return attr
	}
	return slog.Group("", attr, slog.String("error_verbose", fmt.Sprintf("%+v", err)))
}
