package buddy

import (
	"context"

	"golang.org/x/exp/slog"
)

// fatal reports an unrecoverable condition. It never returns.
func (a *Allocator) fatal(err error) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "fatal allocator error",
		slog.Any("error", err),
		slog.Int("arenaSize", int(a.size)),
	)

	if a.fatalHandler != nil {
		a.fatalHandler(err)
	}

	panic(err)
}
