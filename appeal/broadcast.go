package appeal

import (
	"context"
	"log/slog"
)

// LogBroadcaster reports case changes to the log. It stands in for the
// integration bus until subscribers exist.
type LogBroadcaster struct {
	Logger *slog.Logger
}

func (b LogBroadcaster) BroadcastCase(ctx context.Context, c Case, current StatusRecord) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "case changed",
		"case_id", c.ID,
		"reference", c.Reference,
		"status", current.Status,
		"valid_since", current.CreatedAt,
	)
	return nil
}
