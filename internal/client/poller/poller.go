// Package poller periodically pulls changesets from the metadata service and
// hands them to the reconciler. The sync cursor advances only after a
// changeset has been applied in full.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/firebox/internal/api"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/logging"
)

var ErrNoServerTime = errors.New("server reported no sync time")

type Source interface {
	Sync(ctx context.Context, lastSyncTime string) (*api.SyncResponse, error)
}

type Reconciler interface {
	ReconcileFromServer(ctx context.Context, cs *api.SyncResponse) error
}

// CursorStore persists the last server time a changeset was fully applied for.
type CursorStore interface {
	Cursor(ctx context.Context) (time.Time, error)
	AdvanceCursor(ctx context.Context, to time.Time) (bool, error)
}

// Result describes one completed round.
type Result struct {
	UpdatedFiles int       `json:"updated_files"`
	UpToDate     bool      `json:"up_to_date"`
	Cursor       time.Time `json:"cursor"`
}

type Poller struct {
	mu sync.Mutex

	src      Source
	rec      Reconciler
	cursor   CursorStore
	interval time.Duration
	log      logging.Logger
	trigger  chan struct{}
}

func New(src Source, rec Reconciler, cursor CursorStore, interval time.Duration, log logging.Logger) *Poller {
	return &Poller{
		src:      src,
		rec:      rec,
		cursor:   cursor,
		interval: interval,
		log:      log,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks Run for a round without waiting for the next tick. Requests
// arriving while one is already queued are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. A failed round is logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info(ctx, "Poller started", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			p.log.Info(ctx, "Poller stopped")
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}

		if _, err := p.Round(ctx); err != nil && ctx.Err() == nil {
			p.log.Error(ctx, "sync round failed", "error", err)
		}
	}
}

// Round runs one poll: read the cursor, fetch the changeset, reconcile it
// and advance the cursor to the server-reported time. Rounds never overlap.
func (p *Poller) Round(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.cursor.Cursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	cs, err := p.src.Sync(ctx, common.FormatTime(cur))
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if cs.LastSyncTime == "" {
		return nil, ErrNoServerTime
	}
	next, err := common.ParseTime(cs.LastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("server sync time: %w", err)
	}

	if err := p.rec.ReconcileFromServer(ctx, cs); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	changed, err := p.cursor.AdvanceCursor(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	if !changed {
		next = cur
	}

	res := &Result{UpdatedFiles: len(cs.UpdatedFiles), UpToDate: cs.UpToDate, Cursor: next}
	if res.UpdatedFiles > 0 {
		p.log.Info(ctx, "Changeset applied", "files", res.UpdatedFiles, "cursor", common.FormatTime(next))
	} else {
		p.log.Debug(ctx, "up to date", "cursor", common.FormatTime(next))
	}
	return res, nil
}
