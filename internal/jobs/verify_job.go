// Package jobs contains background service loops. Each job owns a ticker,
// exposes Start/Stop, and exits on context cancellation so graceful shutdown
// in main never hangs on a sleeping goroutine.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/config"
	"github.com/chainlog/chainlog/internal/safego"
)

// VerifyJob periodically runs incremental chain verification, advancing the
// persisted checkpoint. A detected break is logged at error level and exposed
// through the chain-intact gauge; the checkpoint stays put so every subsequent
// run keeps reporting the break until an operator investigates.
type VerifyJob struct {
	verifier *audit.Verifier
	cfg      *config.VerifyJobConfig
	stopChan chan struct{}
}

// NewVerifyJob creates a VerifyJob.
func NewVerifyJob(verifier *audit.Verifier, cfg *config.VerifyJobConfig) *VerifyJob {
	return &VerifyJob{
		verifier: verifier,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background verification loop. It runs one pass immediately,
// then repeats on the configured interval. The loop exits when ctx is
// cancelled or Stop is called.
func (j *VerifyJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("chain verify job disabled")
		return
	}

	safego.Go(func() {
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		slog.Info("chain verify job started", "interval", j.cfg.Interval, "batch_size", j.cfg.BatchSize)

		j.runOnce(ctx)
		for {
			select {
			case <-ticker.C:
				j.runOnce(ctx)
			case <-j.stopChan:
				slog.Info("chain verify job stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop signals the background loop to exit.
func (j *VerifyJob) Stop() {
	close(j.stopChan)
}

func (j *VerifyJob) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, j.cfg.Interval)
	defer cancel()

	result, err := j.verifier.VerifyNext(runCtx, j.cfg.BatchSize)
	if err != nil {
		slog.Error("chain verify run failed", "error", err)
		return
	}

	if !result.OK {
		slog.Error("audit chain integrity break detected",
			"broken_at_id", result.BrokenAtID,
			"reason", result.Reason,
			"start_id", result.StartID,
			"checked", result.Checked)
		return
	}

	if result.Checked > 0 {
		slog.Info("chain verify run complete",
			"checked", result.Checked,
			"last_id", result.LastID)
	}
}
