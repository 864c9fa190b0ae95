// Package audit records the append-only history of proposal records. Entries
// are written to the audit_logs table keyed by the proposal's surrogate id;
// they are never updated or deleted after insert. Audit history is separate
// from application logs because it has different consumers and retention:
// application logs are ephemeral debug output, audit entries are the record
// reviewers and partners rely on. The package optionally ships each entry to
// external destinations (webhook, file) via the Shipper interface so the
// trail can be mirrored into a log aggregator.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/partnerhub/partnerhub/internal/config"
)

// ShippedEntry is the external representation of one audit entry.
type ShippedEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	TableName  string                 `json:"table_name"`
	RecordID   int64                  `json:"record_id"`
	ActionType string                 `json:"action_type"`
	UserID     string                 `json:"user_id,omitempty"`
	Note       string                 `json:"note,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper sends audit entries to an external destination.
type Shipper interface {
	Ship(ctx context.Context, entry *ShippedEntry) error
	Close() error
}

// MultiShipper fans one entry out to every configured destination. A failing
// destination does not stop delivery to the others.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds a MultiShipper from config. Disabled entries are
// skipped; an empty config yields a shipper that does nothing.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]Shipper, 0)}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Ship sends an entry to all configured shippers and returns the last error.
func (ms *MultiShipper) Ship(ctx context.Context, entry *ShippedEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all shippers.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper POSTs each entry as JSON to a configured endpoint.
type WebhookShipper struct {
	cfg    *config.AuditWebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a webhook shipper.
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookShipper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Ship sends one entry to the webhook.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *ShippedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close is a no-op; the webhook shipper holds no resources.
func (ws *WebhookShipper) Close() error { return nil }

// FileShipper appends entries as JSON lines to a local file.
type FileShipper struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper creates a file shipper.
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{file: file}, nil
}

// Ship writes one entry as a JSON line.
func (fs *FileShipper) Ship(_ context.Context, entry *ShippedEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
