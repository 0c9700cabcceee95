package stream

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoHistory is returned by Refresh when the feed has no history source.
var ErrNoHistory = errors.New("no history query configured")

// Refresh runs the historical log query once and merges the result into the
// buffer. A failure is returned to the caller and not retried; the live tail
// keeps running either way. After a successful merge the reveal window is
// topped up to at least one page.
func (f *LogFeed) Refresh(ctx context.Context) (int, error) {
	if f.history == nil {
		return 0, ErrNoHistory
	}
	res, err := f.history.FetchLogs(ctx, f.sinceSeconds)
	if err != nil {
		f.hub.logger.Warn("history query failed", "since_seconds", f.sinceSeconds, "err", err)
		return 0, fmt.Errorf("fetch logs: %w", err)
	}

	f.facetsMu.Lock()
	f.facets = Facets{
		Domains:    res.Domains,
		Namespaces: res.Namespaces,
		Sources:    res.Sources,
	}
	f.facetsMu.Unlock()

	added := f.acc.SeedHistory(res.Entries)
	if page := f.acc.PageSize(); f.acc.Limit() < page {
		f.acc.RevealMore(page - f.acc.Limit())
	}
	f.hub.logger.Debug("history merged", "fetched", len(res.Entries), "added", added)
	return added, nil
}
