// stats_repository.go implements the grouped-count queries behind the aggregator and the
// report generator. Grouping happens in SQL where the row volume lives; the audit package
// only assembles and caps the results.
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/models"
)

// StatsRepository implements audit.StatsSource and audit.ReportSource.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a StatsRepository over an sqlx-wrapped pool.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// TotalEvents counts a tenant's events since the window start.
func (r *StatsRepository) TotalEvents(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM audit_events WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since)
	return total, err
}

// CountsByDay groups by UTC calendar day. The result is sparse: days without
// activity are absent, and callers treat them as zero.
func (r *StatsRepository) CountsByDay(ctx context.Context, tenantID string, since time.Time) ([]audit.DayCount, error) {
	counts := make([]audit.DayCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC
	`, tenantID, since)
	return counts, err
}

// CountsByAction groups by exact action code, count-descending with a lexical
// tie break so results are stable for a given snapshot.
func (r *StatsRepository) CountsByAction(ctx context.Context, tenantID string, since time.Time) ([]audit.ActionCount, error) {
	counts := make([]audit.ActionCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT action, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY action
		ORDER BY count DESC, action ASC
	`, tenantID, since)
	return counts, err
}

// CountsByEntity groups by entity type; events without an entity are excluded.
func (r *StatsRepository) CountsByEntity(ctx context.Context, tenantID string, since time.Time) ([]audit.EntityCount, error) {
	counts := make([]audit.EntityCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT entity_type, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND entity_type IS NOT NULL
		GROUP BY entity_type
		ORDER BY count DESC, entity_type ASC
	`, tenantID, since)
	return counts, err
}

// TopActors returns the most active actor emails; anonymous events are excluded.
func (r *StatsRepository) TopActors(ctx context.Context, tenantID string, since time.Time, limit int) ([]audit.ActorCount, error) {
	counts := make([]audit.ActorCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT actor_email, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND actor_email IS NOT NULL
		GROUP BY actor_email
		ORDER BY count DESC, actor_email ASC
		LIMIT $3
	`, tenantID, since, limit)
	return counts, err
}

// SummaryCounts computes the report headline numbers in a single round trip.
func (r *StatsRepository) SummaryCounts(ctx context.Context, tenantID string, since time.Time) (audit.ReportSummary, error) {
	var summary struct {
		TotalEvents  int64 `db:"total_events"`
		Logins       int64 `db:"logins"`
		FailedLogins int64 `db:"failed_logins"`
		RoleChanges  int64 `db:"role_changes"`
	}
	err := r.db.GetContext(ctx, &summary, `
		SELECT
			COUNT(*) AS total_events,
			COUNT(*) FILTER (WHERE action = $3) AS logins,
			COUNT(*) FILTER (WHERE action = $4) AS failed_logins,
			COUNT(*) FILTER (WHERE action = $5) AS role_changes
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2
	`, tenantID, since, audit.ActionLogin, audit.ActionLoginFailed, audit.ActionUserRoleUpdate)
	if err != nil {
		return audit.ReportSummary{}, err
	}
	return audit.ReportSummary{
		TotalEvents:  summary.TotalEvents,
		Logins:       summary.Logins,
		FailedLogins: summary.FailedLogins,
		RoleChanges:  summary.RoleChanges,
	}, nil
}

// FailedLoginsByEmail groups LOGIN_FAILED events by actor email. Failed logins
// with no email (pre-auth failures) are excluded from this grouping; they still
// appear in the by-IP view.
func (r *StatsRepository) FailedLoginsByEmail(ctx context.Context, tenantID string, since time.Time, limit int) ([]audit.ActorCount, error) {
	counts := make([]audit.ActorCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT actor_email, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND action = $3 AND actor_email IS NOT NULL
		GROUP BY actor_email
		ORDER BY count DESC, actor_email ASC
		LIMIT $4
	`, tenantID, since, audit.ActionLoginFailed, limit)
	return counts, err
}

// FailedLoginsByIP groups LOGIN_FAILED events by source address.
func (r *StatsRepository) FailedLoginsByIP(ctx context.Context, tenantID string, since time.Time, limit int) ([]audit.IPCount, error) {
	counts := make([]audit.IPCount, 0)
	err := r.db.SelectContext(ctx, &counts, `
		SELECT ip_address, COUNT(*) AS count
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND action = $3 AND ip_address IS NOT NULL
		GROUP BY ip_address
		ORDER BY count DESC, ip_address ASC
		LIMIT $4
	`, tenantID, since, audit.ActionLoginFailed, limit)
	return counts, err
}

// LoginsOutsideHours returns successful logins whose local-time hour in tz
// falls outside [startHour, endHour), most recent first.
func (r *StatsRepository) LoginsOutsideHours(ctx context.Context, tenantID string, since time.Time, startHour, endHour int, tz string, limit int) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2 AND action = $3
		  AND (EXTRACT(HOUR FROM created_at AT TIME ZONE $4) < $5
		       OR EXTRACT(HOUR FROM created_at AT TIME ZONE $4) >= $6)
		ORDER BY id DESC
		LIMIT $7
	`, tenantID, since, audit.ActionLogin, tz, startHour, endHour, limit)
	if err != nil {
		return nil, fmt.Errorf("query after-hours logins: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// likeEscaper quotes LIKE metacharacters. The default suffix "_DELETE"
// contains "_", the single-character wildcard: unescaped, "%_DELETE" would
// also classify UNDELETE-style codes as destructive, diverging from the exact
// string-suffix semantics of the policy classifier.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// RecentDestructive returns events classified destructive by suffix or by the
// explicit action list, most recent first.
func (r *StatsRepository) RecentDestructive(ctx context.Context, tenantID string, since time.Time, suffixes, actions []string, limit int) ([]*models.AuditEvent, error) {
	// LIKE patterns for the suffix rule; exact matches for the explicit list.
	// LIKE's escape character defaults to backslash (ESCAPE cannot be attached
	// to a LIKE ANY form).
	patterns := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		patterns = append(patterns, "%"+likeEscaper.Replace(s))
	}
	if actions == nil {
		actions = []string{}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		WHERE tenant_id = $1 AND created_at >= $2
		  AND (action LIKE ANY($3) OR action = ANY($4))
		ORDER BY id DESC
		LIMIT $5
	`, tenantID, since, pq.Array(patterns), pq.Array(actions), limit)
	if err != nil {
		return nil, fmt.Errorf("query destructive events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}
