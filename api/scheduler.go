/*
scheduler.go - Periodic material history audit

PURPOSE:
  Replays every material's history against its stored quantity on a fixed
  interval, so a quantity written around the stock ledger (manual SQL, a
  restored backup) is noticed without anyone calling the audit endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Keeps the most recent run for GET /api/materials/audit
  - Mismatches are logged at Error; the run itself never writes

CONFIGURATION:
  - Interval: How often to check (audit.interval, default 1h, 0 disables)

USAGE:
  scheduler := NewAuditScheduler(store, log, time.Hour)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: VerifyHistory
  - handlers.go: AuditMaterial (single material, on demand)
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stroykontrol/build-report/ledger"
)

// AuditRun is the outcome of one pass over all materials.
type AuditRun struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Checked    int                 `json:"checked"`
	Mismatches []ledger.MaterialID `json:"mismatches"`
	Error      string              `json:"error,omitempty"`
}

// AuditScheduler runs VerifyHistory over every material periodically.
type AuditScheduler struct {
	Store    ledger.TxStore
	Log      *slog.Logger
	Interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *AuditRun
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(store ledger.TxStore, log *slog.Logger, interval time.Duration) *AuditScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &AuditScheduler{Store: store, Log: log, Interval: interval}
}

// Start begins the scheduler. It is a no-op when Interval is zero.
func (s *AuditScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Log.Info("audit scheduler disabled")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.Log.Info("audit scheduler started", "interval", s.Interval.String())
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
		s.Log.Info("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow audits every material and records the result.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditRun {
	run := AuditRun{StartedAt: time.Now(), Mismatches: []ledger.MaterialID{}}

	materials, err := s.Store.ListMaterials(ctx, false)
	if err != nil {
		run.Error = err.Error()
		s.Log.Error("audit: list materials failed", "err", err)
	}
	for _, m := range materials {
		err := ledger.VerifyHistory(ctx, s.Store, m.ID)
		switch {
		case err == nil:
			run.Checked++
		case errors.Is(err, ledger.ErrHistoryMismatch):
			run.Checked++
			run.Mismatches = append(run.Mismatches, m.ID)
			s.Log.Error("audit: material history mismatch", "material_id", m.ID, "name", m.Name, "err", err)
		case errors.Is(err, ledger.ErrMaterialNotFound):
			// deleted between list and replay
		default:
			run.Error = err.Error()
			s.Log.Error("audit: replay failed", "material_id", m.ID, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	run.FinishedAt = time.Now()

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()

	s.Log.Info("audit finished", "checked", run.Checked, "mismatches", len(run.Mismatches))
	return run
}

// LastRun returns the most recent run, or nil before the first one.
func (s *AuditScheduler) LastRun() *AuditRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// =============================================================================
// HANDLERS
// =============================================================================

// LastAudit returns the most recent scheduled audit.
// GET /api/materials/audit
func (s *AuditScheduler) LastAudit(w http.ResponseWriter, r *http.Request) {
	last := s.LastRun()
	if last == nil {
		writeError(w, http.StatusNotFound, "No audit has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// TriggerAudit runs an audit synchronously.
// POST /api/materials/audit
func (s *AuditScheduler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.RunNow(r.Context()))
}
