// shipper.go ships appended records to secondary destinations (file, webhook) for SIEM
// ingestion. Shipping is strictly best-effort: the database row is the chain's source of
// truth, and a destination outage never blocks or fails an append.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chainlog/chainlog/internal/db/models"
)

// Shipper sends a copy of an appended record to an external destination.
type Shipper interface {
	Ship(ctx context.Context, rec *models.AuditEvent) error
	Close() error
}

// ShipperConfig selects and configures one destination.
type ShipperConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	Type    string                `mapstructure:"type"` // "file" | "webhook"
	File    *FileShipperConfig    `mapstructure:"file"`
	Webhook *WebhookShipperConfig `mapstructure:"webhook"`
}

// FileShipperConfig configures the JSONL file destination.
type FileShipperConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // rotate above this size; 0 = never
	MaxBackups int    `mapstructure:"max_backups"`
}

// WebhookShipperConfig configures the HTTP destination.
type WebhookShipperConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"` // 0 = ship each record immediately
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
}

// NewShipper builds a fan-out shipper from the enabled configs. It returns
// nil (and no error) when nothing is enabled so callers can skip wiring.
func NewShipper(configs []ShipperConfig) (Shipper, error) {
	var shippers []Shipper
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Type {
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file shipper requires a file section")
			}
			s, err := NewFileShipper(*cfg.File)
			if err != nil {
				return nil, err
			}
			shippers = append(shippers, s)
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook shipper requires a webhook section")
			}
			shippers = append(shippers, NewWebhookShipper(*cfg.Webhook))
		default:
			return nil, fmt.Errorf("unknown shipper type %q", cfg.Type)
		}
	}
	if len(shippers) == 0 {
		return nil, nil
	}
	if len(shippers) == 1 {
		return shippers[0], nil
	}
	return &fanoutShipper{shippers: shippers}, nil
}

// fanoutShipper delivers to every destination and reports the last failure;
// one failing destination does not stop delivery to the others.
type fanoutShipper struct {
	shippers []Shipper
}

func (f *fanoutShipper) Ship(ctx context.Context, rec *models.AuditEvent) error {
	var lastErr error
	for _, s := range f.shippers {
		if err := s.Ship(ctx, rec); err != nil {
			lastErr = err
			slog.Warn("audit shipper destination failed", "error", err)
		}
	}
	return lastErr
}

func (f *fanoutShipper) Close() error {
	var lastErr error
	for _, s := range f.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FileShipper appends records as JSON lines with size-based rotation.
type FileShipper struct {
	cfg  FileShipperConfig
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the destination file in append mode.
func NewFileShipper(cfg FileShipperConfig) (*FileShipper, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit ship file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: f}, nil
}

// Ship writes one JSONL record, rotating first if the file exceeds the limit.
func (s *FileShipper) Ship(_ context.Context, rec *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxSizeMB > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() > int64(s.cfg.MaxSizeMB)*1024*1024 {
			if err := s.rotate(); err != nil {
				slog.Warn("audit ship file rotation failed", "error", err)
			}
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode shipped record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write shipped record: %w", err)
	}
	return nil
}

func (s *FileShipper) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	for i := s.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", s.cfg.Path, i), fmt.Sprintf("%s.%d", s.cfg.Path, i+1))
	}
	_ = os.Rename(s.cfg.Path, s.cfg.Path+".1")
	if s.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", s.cfg.Path, s.cfg.MaxBackups+1))
	}
	f, err := os.OpenFile(s.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// Close closes the destination file.
func (s *FileShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// WebhookShipper POSTs records to an HTTP endpoint, optionally batched.
type WebhookShipper struct {
	cfg       WebhookShipperConfig
	client    *http.Client
	mu        sync.Mutex
	batch     []*models.AuditEvent
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper. When BatchSize > 0 a flusher
// goroutine drains the batch on size or on FlushInterval, whichever first.
func NewWebhookShipper(cfg WebhookShipperConfig) *WebhookShipper {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		closeCh: make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		go ws.flushLoop()
	}
	return ws
}

func (ws *WebhookShipper) flushLoop() {
	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.flush()
		case <-ws.closeCh:
			ws.flush()
			return
		}
	}
}

// Ship queues the record (batched mode) or sends it immediately.
func (ws *WebhookShipper) Ship(ctx context.Context, rec *models.AuditEvent) error {
	if ws.cfg.BatchSize > 0 {
		ws.mu.Lock()
		ws.batch = append(ws.batch, rec)
		full := len(ws.batch) >= ws.cfg.BatchSize
		ws.mu.Unlock()
		if full {
			ws.flush()
		}
		return nil
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode shipped record: %w", err)
	}
	return ws.post(ctx, body)
}

func (ws *WebhookShipper) flush() {
	ws.mu.Lock()
	if len(ws.batch) == 0 {
		ws.mu.Unlock()
		return
	}
	batch := ws.batch
	ws.batch = nil
	ws.mu.Unlock()

	body, err := json.Marshal(batch)
	if err != nil {
		slog.Warn("audit webhook batch encode failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()
	if err := ws.post(ctx, body); err != nil {
		slog.Warn("audit webhook batch send failed", "count", len(batch), "error", err)
	}
}

func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any pending batch and stops the flusher.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.closeCh) })
	return nil
}
