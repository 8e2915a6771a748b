// report.go builds the SOC-style compliance report from aggregate queries and the
// configurable report policy.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/chainlog/chainlog/internal/db/models"
)

// IPCount is the number of events for one source IP.
type IPCount struct {
	IPAddress string `json:"ip_address" db:"ip_address"`
	Count     int64  `json:"count" db:"count"`
}

// ReportSummary is the headline counts of the report window.
type ReportSummary struct {
	TotalEvents  int64 `json:"total_events"`
	Logins       int64 `json:"logins"`
	FailedLogins int64 `json:"failed_logins"`
	RoleChanges  int64 `json:"role_changes"`
}

// ReportFindings are the noteworthy groupings a reviewer looks at first.
type ReportFindings struct {
	FailedLoginsByEmail []ActorCount          `json:"failed_logins_by_email"`
	FailedLoginsByIP    []IPCount             `json:"failed_logins_by_ip"`
	AfterHoursLogins    []*models.AuditEvent  `json:"after_hours_logins"`
	DestructiveEvents   []*models.AuditEvent  `json:"destructive_events"` // most recent first
}

// Report is the full generated document.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowDays  int            `json:"window_days"`
	Summary     ReportSummary  `json:"summary"`
	Findings    ReportFindings `json:"findings"`
}

// ReportSource is the query surface the Reporter needs, implemented by the
// stats repository. The after-hours and destructive queries take the policy
// parameters as arguments so classification lives in SQL where the row volume
// is, while the policy itself stays configurable in Go.
type ReportSource interface {
	SummaryCounts(ctx context.Context, tenantID string, since time.Time) (ReportSummary, error)
	FailedLoginsByEmail(ctx context.Context, tenantID string, since time.Time, limit int) ([]ActorCount, error)
	FailedLoginsByIP(ctx context.Context, tenantID string, since time.Time, limit int) ([]IPCount, error)
	// LoginsOutsideHours returns successful LOGIN events whose local-time hour
	// in timezone tz falls outside [startHour, endHour), most recent first.
	LoginsOutsideHours(ctx context.Context, tenantID string, since time.Time, startHour, endHour int, tz string, limit int) ([]*models.AuditEvent, error)
	// RecentDestructive returns events matching any suffix or explicit action
	// code, most recent first.
	RecentDestructive(ctx context.Context, tenantID string, since time.Time, suffixes, actions []string, limit int) ([]*models.AuditEvent, error)
}

// Reporter generates compliance reports. Generation is read-only and
// idempotent: two calls at the same instant over an unchanged store produce
// identical summaries and findings (generated_at aside).
type Reporter struct {
	source ReportSource
	policy *PolicyHolder
	now    func() time.Time
}

// NewReporter creates a Reporter using the policy held by holder.
func NewReporter(source ReportSource, policy *PolicyHolder) *Reporter {
	return &Reporter{source: source, policy: policy, now: time.Now}
}

// Generate builds the report for one tenant over the trailing windowDays.
func (r *Reporter) Generate(ctx context.Context, tenantID string, windowDays int) (*Report, error) {
	if windowDays < 1 {
		return nil, ErrInvalidWindow
	}

	policy := r.policy.Current()
	now := r.now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	report := &Report{GeneratedAt: now, WindowDays: windowDays}

	var err error
	if report.Summary, err = r.source.SummaryCounts(ctx, tenantID, since); err != nil {
		return nil, fmt.Errorf("report summary: %w", err)
	}
	if report.Findings.FailedLoginsByEmail, err = r.source.FailedLoginsByEmail(ctx, tenantID, since, policy.TopN); err != nil {
		return nil, fmt.Errorf("failed logins by email: %w", err)
	}
	if report.Findings.FailedLoginsByIP, err = r.source.FailedLoginsByIP(ctx, tenantID, since, policy.TopN); err != nil {
		return nil, fmt.Errorf("failed logins by ip: %w", err)
	}
	if report.Findings.AfterHoursLogins, err = r.source.LoginsOutsideHours(ctx, tenantID, since,
		policy.BusinessHoursStart, policy.BusinessHoursEnd, policy.Location(), policy.MaxFindings); err != nil {
		return nil, fmt.Errorf("after-hours logins: %w", err)
	}
	if report.Findings.DestructiveEvents, err = r.source.RecentDestructive(ctx, tenantID, since,
		policy.DestructiveSuffixes, policy.DestructiveActions, policy.MaxFindings); err != nil {
		return nil, fmt.Errorf("destructive events: %w", err)
	}

	return report, nil
}
