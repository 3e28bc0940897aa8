package publish

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogPublisher is the default delivery backend. It records the finalized
// draft in the log and acknowledges with a fresh reference id; a real
// platform integration plugs in behind the Publisher interface.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: slog.Default()}
}

func (p *LogPublisher) Publish(ctx context.Context, draft Draft) (string, error) {
	ref := uuid.New().String()
	p.logger.Info("draft ready for publishing",
		"content_id", draft.ContentID,
		"kind", draft.Kind,
		"parts", len(draft.Body),
		"ref", ref,
	)
	return ref, nil
}
