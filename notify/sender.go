/*
sender.go - Outbound channels

  EmulatedSender: used outside production. Writes each email as a
                  markdown file (when Dir is set) and logs it.
  HTTPSender:     posts the rendered email as JSON to the mail provider.
                  Bounded by the HTTP client timeout; never retried here.
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EMULATED SENDER
// =============================================================================

type EmulatedSender struct {
	Dir    string
	Logger *slog.Logger
}

func NewEmulatedSender(dir string, logger *slog.Logger) (*EmulatedSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create email directory: %w", err)
		}
	}
	return &EmulatedSender{Dir: dir, Logger: logger}, nil
}

func (s *EmulatedSender) Send(ctx context.Context, recipient, subject, body string) error {
	if s.Dir != "" {
		name := fmt.Sprintf("%s-%s.md", time.Now().UTC().Format("20060102T150405"), uuid.NewString())
		content := fmt.Sprintf("---\nto: %s\nsubject: %s\n---\n\n%s", recipient, subject, body)
		path := filepath.Join(s.Dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write emulated email: %w", err)
		}
		s.Logger.InfoContext(ctx, "emulated email written", "recipient", recipient, "subject", subject, "path", path)
		return nil
	}
	s.Logger.InfoContext(ctx, "emulated email", "recipient", recipient, "subject", subject)
	return nil
}

// =============================================================================
// HTTP PROVIDER SENDER
// =============================================================================

type HTTPSender struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewHTTPSender(url, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: timeout},
	}
}

type providerEmail struct {
	EmailAddress string `json:"email_address"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
}

func (s *HTTPSender) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(providerEmail{EmailAddress: recipient, Subject: subject, Body: body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
