// Package delta pages through the remote change feed. The reader is a lazy,
// finite, restartable sequence keyed by the persisted cursor; it never
// persists anything itself; cursor durability is the orchestrator's job.
package delta

import (
	"context"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
)

type Reader struct {
	api    remote.API
	logger logging.Logger
}

func NewReader(api remote.API, logger logging.Logger) *Reader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Reader{api: api, logger: logger}
}

// Pages drains the change feed starting at cursor, invoking apply for each
// page as it arrives. apply must durably land the page's items before
// returning; only then does the reader move on, which is what makes
// at-least-once page application safe.
//
// The returned cursor is the delta link from the final page and is only
// valid once the whole sequence was consumed. A CURSOR_EXPIRED error from
// the remote propagates typed and unmodified so the caller can reset and
// fall back to full reconciliation.
func (r *Reader) Pages(ctx context.Context, cursor string, apply func(items []remote.Item) error) (string, error) {
	link := cursor
	newCursor := ""
	pageCount := 0

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page, err := r.api.ListDeltaPage(ctx, link)
		if err != nil {
			return "", err
		}
		pageCount++

		if err := apply(page.Items); err != nil {
			return "", err
		}

		if page.DeltaLink != "" {
			newCursor = page.DeltaLink
		}
		if page.NextLink == "" {
			break
		}
		link = page.NextLink
	}

	r.logger.Debug("delta feed drained",
		logging.F("pages", pageCount),
		logging.F("resumable", newCursor != ""),
	)
	return newCursor, nil
}
