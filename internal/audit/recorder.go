// recorder.go implements the single-writer append path of the audit chain.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainlog/chainlog/internal/db/models"
	"github.com/chainlog/chainlog/internal/safego"
	"github.com/chainlog/chainlog/internal/telemetry"
)

// Recorder appends events to the chain. It is the only component that writes
// to the store. Concurrent Append calls are serialized by the store's append
// lock, so two callers can never observe the same tail and compute the same
// prev_hash or id.
type Recorder struct {
	store   ChainStore
	shipper Shipper // optional secondary destinations (SIEM); never affects append semantics
	now     func() time.Time
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithShipper attaches a secondary shipping destination. Shipping happens
// after the database commit, asynchronously; a shipping failure is logged and
// counted but the append still succeeds — the database row is the source of
// truth for the chain.
func WithShipper(s Shipper) RecorderOption {
	return func(r *Recorder) { r.shipper = s }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store ChainStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append assigns the event the next position in the global chain, computes its
// hash, and persists it atomically. It returns the persisted record including
// the assigned id and hash.
//
// On any persistence failure the append is rolled back wholesale — no partial
// row, no advanced tail. The caller (typically a business action recording its
// own audit trail) decides whether to fail or compensate; this subsystem never
// silently drops a requested write.
func (r *Recorder) Append(ctx context.Context, ev Event) (*models.AuditEvent, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	// Normalize up front so the representation being hashed is the one the
	// verifier will reconstruct from the stored JSONB.
	details, err := NormalizeDetails(ev.Details)
	if err != nil {
		return nil, err
	}

	start := r.now()
	rec, err := r.store.AppendRecord(ctx, func(lastID int64, lastHash string) (*models.AuditEvent, error) {
		prevHash := lastHash
		if lastID == 0 {
			prevHash = GenesisHash
		}

		record := &models.AuditEvent{
			ID:          lastID + 1,
			TenantID:    ev.TenantID,
			ActorUserID: ev.ActorUserID,
			ActorEmail:  ev.ActorEmail,
			Action:      ev.Action,
			EntityType:  ev.EntityType,
			EntityID:    ev.EntityID,
			IPAddress:   ev.IPAddress,
			Details:     details,
			CreatedAt:   TruncateTimestamp(r.now()),
			PrevHash:    prevHash,
		}

		hash, err := ComputeHash(record, prevHash)
		if err != nil {
			return nil, err
		}
		record.Hash = hash
		return record, nil
	})

	telemetry.AuditAppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AuditAppendsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	telemetry.AuditAppendsTotal.WithLabelValues("ok").Inc()

	if r.shipper != nil {
		// Fire-and-forget: a SIEM outage must not block or fail the write path.
		shipped := *rec
		safego.Go(func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.shipper.Ship(shipCtx, &shipped); err != nil {
				telemetry.AuditShipFailuresTotal.Inc()
				slog.Warn("audit shipper failed", "id", shipped.ID, "error", err)
			}
		})
	}

	return rec, nil
}
