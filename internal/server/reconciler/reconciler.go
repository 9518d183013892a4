// Package reconciler polls the transcription service for records that are
// still in progress and writes the resulting status back.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
)

// Report summarises one sweep.
type Report struct {
	Checked int
	Updated int
	Skipped int
	Errors  int
}

type Reconciler struct {
	records     *records.Store
	jobs        transcription.Client
	logger      logging.Logger
	interval    time.Duration
	callTimeout time.Duration
}

func New(recs *records.Store, jobs transcription.Client, logger logging.Logger, interval, callTimeout time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Reconciler{
		records:     recs,
		jobs:        jobs,
		logger:      logger.With("module", "reconciler"),
		interval:    interval,
		callTimeout: callTimeout,
	}
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rep, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error(ctx, "sweep failed", "error", err)
				continue
			}
			if rep.Updated > 0 || rep.Errors > 0 {
				r.logger.Info(ctx, "sweep done", "checked", rep.Checked, "updated", rep.Updated,
					"skipped", rep.Skipped, "errors", rep.Errors)
			}
		}
	}
}

// Sweep reconciles every in-progress record that has a job id. A failing
// record never stops the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	recs, err := r.records.FindInProgress(ctx)
	if err != nil {
		return Report{}, err
	}
	return r.reconcileAll(ctx, recs), nil
}

// SweepUser is the on-demand variant run before a user's records are listed.
func (r *Reconciler) SweepUser(ctx context.Context, userID string) (Report, error) {
	recs, err := r.records.FindByUser(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	var pending []*models.AudioRecord
	for _, rec := range recs {
		if rec.Status == models.StatusInProgress && rec.JobID != "" {
			pending = append(pending, rec)
		}
	}
	return r.reconcileAll(ctx, pending), nil
}

func (r *Reconciler) reconcileAll(ctx context.Context, recs []*models.AudioRecord) Report {
	var rep Report
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++
		changed, err := r.reconcile(ctx, rec)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			r.logger.Warn(ctx, "job not found, skipping", "record_id", rec.ID, "job_id", rec.JobID)
			rep.Skipped++
		case err != nil:
			r.logger.Error(ctx, "reconcile failed", "record_id", rec.ID, "job_id", rec.JobID, "error", err)
			rep.Errors++
		case changed:
			rep.Updated++
		}
	}
	return rep
}

func (r *Reconciler) reconcile(ctx context.Context, rec *models.AudioRecord) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	st, err := r.jobs.Poll(pollCtx, rec.JobID)
	cancel()
	if err != nil {
		return false, err
	}

	status := transcription.MapState(st.State)
	if status == rec.Status && status != models.StatusFailed {
		return false, nil
	}
	msg := st.Error
	if status == models.StatusFailed && msg == "" {
		msg = "transcription failed: " + string(st.State)
	}
	updated, err := r.records.UpdateStatusAndError(ctx, rec.ID, status, msg)
	if err != nil {
		return false, err
	}
	if updated.Version != rec.Version {
		r.logger.Info(ctx, "record status changed", "record_id", rec.ID, "job_id", rec.JobID,
			"from", string(rec.Status), "to", string(status))
		return true, nil
	}
	return false, nil
}
