package pill

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/session"
)

// replay serves the entry at the cursor and advances it.
//
// The recorded operation is compared with the live request only to log a
// warning; it never changes which entry is served.
func (p *Pill) replay(ctx context.Context, req *session.Request) (*session.Response, error) {
	idx := p.cursor.Next()

	entry, err := p.cassette.ReadEntry(idx)
	if err != nil {
		var fe *fixture.Error
		if errors.As(err, &fe) && fe.Operation == "" {
			fe.Operation = req.Operation()
		}
		return nil, err
	}

	if entry.Operation != req.Operation() {
		p.logger.WarnContext(ctx, "replayed fixture recorded for a different operation",
			"test_case", p.cassette.Name(),
			"index", idx,
			"recorded", entry.Operation,
			"requested", req.Operation(),
		)
	}
	p.trace(ctx, "replayed call", entry)

	if entry.Error != nil {
		apiErr := *entry.Error
		return nil, &apiErr
	}
	return &session.Response{StatusCode: entry.StatusCode, Body: entry.Response}, nil
}

func (p *Pill) trace(ctx context.Context, msg string, e fixture.Entry) {
	level := slog.LevelDebug
	if p.debug {
		level = slog.LevelInfo
	}
	p.logger.Log(ctx, level, msg,
		"test_case", p.cassette.Name(),
		"index", e.Index,
		"operation", e.Operation,
		"status_code", e.StatusCode,
	)
	if p.observer != nil {
		p.observer(p.mode, e)
	}
}
