package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/pagination"
	"github.com/mbd888/zapshift/internal/parcels"
	"github.com/mbd888/zapshift/internal/payments"
	"github.com/mbd888/zapshift/internal/retry"
)

const (
	DefaultRepairGrace    = 2 * time.Minute
	DefaultRepairLookback = 7 * 24 * time.Hour
	DefaultRepairBatch    = 200
)

// RepairReport summarizes one sweep.
type RepairReport struct {
	Scanned    int           `json:"scanned"`
	Unrecorded int           `json:"unrecorded"`
	Repaired   int           `json:"repaired"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Repairer finds paid parcels with no payment record and re-runs
// reconciliation for the session that paid them.
type Repairer struct {
	engine   *Engine
	parcels  parcels.Store
	ledger   Ledger
	logger   *slog.Logger
	now      func() time.Time
	grace    time.Duration
	lookback time.Duration
	batch    int
	attempts int
	backoff  time.Duration
}

// NewRepairer creates a ledger repair sweep over parcels paid within the
// lookback window. Parcels paid less than DefaultRepairGrace ago are left
// to the in-flight confirmation.
func NewRepairer(engine *Engine, parcelStore parcels.Store, ledger Ledger, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{
		engine:   engine,
		parcels:  parcelStore,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
		grace:    DefaultRepairGrace,
		lookback: DefaultRepairLookback,
		batch:    DefaultRepairBatch,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// Run performs one sweep, paging through the whole window in batches.
// Individual parcel failures are counted in the report; the returned error
// is for failures to list parcels at all.
func (r *Repairer) Run(ctx context.Context) (*RepairReport, error) {
	start := time.Now()
	now := r.now().UTC()

	report := &RepairReport{}
	f := parcels.Filter{
		PaymentStatus: parcels.StatusPaid,
		PaidAfter:     now.Add(-r.lookback),
		PaidBefore:    now.Add(-r.grace),
		Limit:         r.batch,
	}
	for ctx.Err() == nil {
		page, err := r.parcels.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list paid parcels: %w", err)
		}
		report.Scanned += len(page)
		for _, p := range page {
			if ctx.Err() != nil {
				break
			}
			r.check(ctx, p, report)
		}
		if len(page) < r.batch {
			break
		}
		last := page[len(page)-1]
		f.After = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	report.Duration = time.Since(start)
	repairUnrecorded.Set(float64(report.Unrecorded))
	if report.Unrecorded > 0 {
		r.logger.Info("ledger repair sweep",
			"scanned", report.Scanned,
			"unrecorded", report.Unrecorded,
			"repaired", report.Repaired,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (r *Repairer) check(ctx context.Context, p *parcels.Parcel, report *RepairReport) {
	_, err := r.ledger.ForParcel(ctx, p.ID)
	if err == nil {
		return
	}
	if !errors.Is(err, payments.ErrPaymentNotFound) {
		report.Failed++
		r.logger.Warn("repair: ledger lookup failed", "parcel_id", p.ID, "error", err)
		return
	}

	report.Unrecorded++
	if err := r.repair(ctx, p); err != nil {
		report.Failed++
		repairErrors.Inc()
		r.logger.Error("repair: payment record still missing",
			"parcel_id", p.ID,
			"session_id", p.PaymentSessionID,
			"error", err,
		)
		return
	}
	report.Repaired++
}

func (r *Repairer) repair(ctx context.Context, p *parcels.Parcel) error {
	if p.PaymentSessionID == "" {
		return fmt.Errorf("parcel %s has no payment session: %w", p.ID, apperr.ErrDataIntegrity)
	}

	return retry.Do(ctx, r.attempts, r.backoff, func() error {
		res, err := r.engine.Reconcile(ctx, p.PaymentSessionID)
		if err != nil {
			if errors.Is(err, apperr.ErrUpstreamUnavailable) || errors.Is(err, apperr.ErrStoreUnavailable) {
				return err
			}
			return retry.Permanent(err)
		}
		if res.PaymentID == "" {
			return retry.Permanent(fmt.Errorf("session %s did not produce a payment record (%s)", p.PaymentSessionID, res.Outcome))
		}
		return nil
	})
}
