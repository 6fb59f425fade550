package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/config"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

func TestOpenBackend(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      config.Config
		wantPing bool
	}{
		{name: "memory", cfg: config.Config{Driver: config.DriverMemory}},
		{name: "sqlite", cfg: config.Config{Driver: config.DriverSQLite, DBPath: filepath.Join(t.TempDir(), "appeals.db")}, wantPing: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := openBackend(context.Background(), tc.cfg)
			require.NoError(t, err)
			defer b.close()

			assert.NotNil(t, b.store)
			assert.NotNil(t, b.audit)
			if tc.wantPing {
				require.NotNil(t, b.ping)
				assert.NoError(t, b.ping(context.Background()))
			} else {
				assert.Nil(t, b.ping)
			}
		})
	}
}

func TestNewSender(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := newSender(config.Config{NotifyMode: config.NotifyEmulate}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.EmulatedSender{}, s)

	s, err = newSender(config.Config{NotifyMode: config.NotifyProvider, ProviderURL: "http://localhost:9999"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.HTTPSender{}, s)
}

func TestLoadRegistry(t *testing.T) {
	reg, err := loadRegistry(config.Config{})
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "decision-published")

	_, err = loadRegistry(config.Config{TemplatesPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run([]string{"-driver=oracle"}, func(string) string { return "" })

	assert.ErrorContains(t, err, "unknown store driver")
}
