// policy.go holds the configurable report policy: the business-hours window used to
// classify after-hours logins and the rule deciding which actions count as destructive.
// Neither value is hardcoded — compliance teams tune both per deployment, and the policy
// file (when configured) is hot-reloaded on change so tuning does not require a restart.
package audit

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy controls report classification.
type Policy struct {
	// BusinessHoursStart/End bound the business-hours window in local hours
	// [Start, End). A successful login outside the window is an after-hours
	// finding. Defaults: 07:00–20:00.
	BusinessHoursStart int    `mapstructure:"business_hours_start"`
	BusinessHoursEnd   int    `mapstructure:"business_hours_end"`
	Timezone           string `mapstructure:"timezone"` // IANA name; "UTC" if empty

	// DestructiveSuffixes classifies by action-name suffix (e.g. "_DELETE");
	// DestructiveActions is an explicit allow-list for codes the suffix rule
	// misses (e.g. "BULK_PURGE"). Either rule matching marks an action
	// destructive.
	DestructiveSuffixes []string `mapstructure:"destructive_suffixes"`
	DestructiveActions  []string `mapstructure:"destructive_actions"`

	// TopN caps the failed-login groupings; MaxFindings caps the after-hours
	// and destructive event lists.
	TopN        int `mapstructure:"top_n"`
	MaxFindings int `mapstructure:"max_findings"`
}

// DefaultPolicy returns the documented default policy.
func DefaultPolicy() Policy {
	return Policy{
		BusinessHoursStart:  7,
		BusinessHoursEnd:    20,
		Timezone:            "UTC",
		DestructiveSuffixes: []string{"_DELETE"},
		DestructiveActions:  nil,
		TopN:                10,
		MaxFindings:         50,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.BusinessHoursStart < 0 || p.BusinessHoursStart > 23 {
		return fmt.Errorf("business_hours_start must be 0-23, got %d", p.BusinessHoursStart)
	}
	if p.BusinessHoursEnd < 1 || p.BusinessHoursEnd > 24 {
		return fmt.Errorf("business_hours_end must be 1-24, got %d", p.BusinessHoursEnd)
	}
	if p.BusinessHoursEnd <= p.BusinessHoursStart {
		return fmt.Errorf("business_hours_end (%d) must be after business_hours_start (%d)", p.BusinessHoursEnd, p.BusinessHoursStart)
	}
	if p.TopN < 1 {
		return fmt.Errorf("top_n must be positive, got %d", p.TopN)
	}
	if p.MaxFindings < 1 {
		return fmt.Errorf("max_findings must be positive, got %d", p.MaxFindings)
	}
	if _, err := time.LoadLocation(p.Location()); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	return nil
}

// Location returns the policy timezone name, defaulting to UTC.
func (p Policy) Location() string {
	if p.Timezone == "" {
		return "UTC"
	}
	return p.Timezone
}

// IsAfterHours reports whether t falls outside the business-hours window in
// the policy timezone.
func (p Policy) IsAfterHours(t time.Time) bool {
	loc, err := time.LoadLocation(p.Location())
	if err != nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	return hour < p.BusinessHoursStart || hour >= p.BusinessHoursEnd
}

// IsDestructive reports whether action matches the destructive classification.
// Matching is exact and case-sensitive, like every other action comparison.
func (p Policy) IsDestructive(action string) bool {
	for _, suffix := range p.DestructiveSuffixes {
		if strings.HasSuffix(action, suffix) {
			return true
		}
	}
	for _, a := range p.DestructiveActions {
		if action == a {
			return true
		}
	}
	return false
}

// PolicyHolder provides concurrency-safe access to the current policy and
// supports hot reload from a watched file.
type PolicyHolder struct {
	mu      sync.RWMutex
	current Policy
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPolicyHolder creates a holder seeded with p.
func NewPolicyHolder(p Policy) *PolicyHolder {
	return &PolicyHolder{current: p}
}

// Current returns the active policy.
func (h *PolicyHolder) Current() Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Set replaces the active policy.
func (h *PolicyHolder) Set(p Policy) {
	h.mu.Lock()
	h.current = p
	h.mu.Unlock()
}

// loadPolicyFile reads a policy file (YAML or JSON, decided by extension) and
// merges it over the defaults so a partial file only overrides what it names.
func loadPolicyFile(path string) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)

	def := DefaultPolicy()
	v.SetDefault("business_hours_start", def.BusinessHoursStart)
	v.SetDefault("business_hours_end", def.BusinessHoursEnd)
	v.SetDefault("timezone", def.Timezone)
	v.SetDefault("destructive_suffixes", def.DestructiveSuffixes)
	v.SetDefault("destructive_actions", def.DestructiveActions)
	v.SetDefault("top_n", def.TopN)
	v.SetDefault("max_findings", def.MaxFindings)

	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// WatchFile loads the policy from path and keeps reloading it whenever the
// file changes. The watch runs until Close is called. A reload that fails to
// parse or validate is logged and ignored — the last good policy stays active.
//
// The watch is registered on the directory, not the file: editors and
// configmap mounts replace files by rename, which would silently detach a
// file-level watch.
func (h *PolicyHolder) WatchFile(path string) error {
	p, err := loadPolicyFile(path)
	if err != nil {
		return err
	}
	h.Set(p)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch policy directory: %w", err)
	}

	h.watcher = watcher
	h.done = make(chan struct{})
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				reloaded, err := loadPolicyFile(path)
				if err != nil {
					slog.Warn("audit policy reload failed, keeping previous policy", "path", path, "error", err)
					continue
				}
				h.Set(reloaded)
				slog.Info("audit policy reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("audit policy watcher error", "error", err)
			case <-h.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watch, if one is active.
func (h *PolicyHolder) Close() error {
	if h.watcher == nil {
		return nil
	}
	close(h.done)
	return h.watcher.Close()
}
