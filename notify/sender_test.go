package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

func TestEmulatedSender_WritesMarkdown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "emails")
	s, err := notify.NewEmulatedSender(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "x@example.com", "Subject line", "Hello"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".md", filepath.Ext(entries[0].Name()))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "---\nto: x@example.com\nsubject: Subject line\n---\n\nHello", string(data))
}

func TestEmulatedSender_LogOnly(t *testing.T) {
	s, err := notify.NewEmulatedSender("", nil)
	require.NoError(t, err)

	assert.NoError(t, s.Send(context.Background(), "x@example.com", "s", "b"))
}

func TestHTTPSender_Send(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := notify.NewHTTPSender(srv.URL, "secret", time.Second)
	require.NoError(t, s.Send(context.Background(), "x@example.com", "subj", "body"))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, map[string]string{"email_address": "x@example.com", "subject": "subj", "body": "body"}, got)
}

func TestHTTPSender_ProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad recipient", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := notify.NewHTTPSender(srv.URL, "", time.Second).Send(context.Background(), "x", "s", "b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider responded 400: bad recipient")
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := notify.NewHTTPSender(srv.URL, "", 50*time.Millisecond).Send(context.Background(), "x", "s", "b")

	assert.Error(t, err)
}

func TestNewHTTPSender_DefaultTimeout(t *testing.T) {
	s := notify.NewHTTPSender("http://localhost", "", 0)

	assert.Equal(t, 10*time.Second, s.Client.Timeout)
}
