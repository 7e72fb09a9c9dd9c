package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ModeLazy, cfg.Mode)
	require.Equal(t, DefaultOutputDir, cfg.OutputDir)
	require.Equal(t, DefaultBatchSize, cfg.BatchSize)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.False(t, cfg.AlwaysBackup)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PROOFY_MODE", "batch")
	t.Setenv("PROOFY_API_BASE", "https://api.example.com")
	t.Setenv("PROOFY_TOKEN", "secret")
	t.Setenv("PROOFY_PROJECT_ID", "7")
	t.Setenv("PROOFY_BATCH_SIZE", "25")
	t.Setenv("PROOFY_OUTPUT_DIR", "/tmp/out")
	t.Setenv("PROOFY_ALWAYS_BACKUP", "true")
	t.Setenv("PROOFY_WORKER_ID", "gw1")
	t.Setenv("PROOFY_TIMEOUT", "2.5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ModeBatch, cfg.Mode)
	require.Equal(t, "https://api.example.com", cfg.APIBase)
	require.Equal(t, "secret", cfg.Token)
	require.Equal(t, int64(7), cfg.ProjectID)
	require.Equal(t, 25, cfg.BatchSize)
	require.Equal(t, "/tmp/out", cfg.OutputDir)
	require.True(t, cfg.AlwaysBackup)
	require.Equal(t, "gw1", cfg.WorkerID)
	require.Equal(t, 2500*time.Millisecond, cfg.Timeout)
}

func TestFromEnv_InvalidMode(t *testing.T) {
	t.Setenv("PROOFY_MODE", "streaming")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnv_InvalidBatchSize(t *testing.T) {
	t.Setenv("PROOFY_BATCH_SIZE", "zero")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Mode
		wantErr bool
	}{
		{name: "live", in: "live", want: ModeLive},
		{name: "lazy", in: "lazy", want: ModeLazy},
		{name: "batch", in: "batch", want: ModeBatch},
		{name: "invalid", in: "firehose", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, mode)
		})
	}
}

func TestCacheEnabled(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		disabled bool
		want     bool
	}{
		{name: "live with cache disabled", mode: ModeLive, disabled: true, want: false},
		{name: "live with cache enabled", mode: ModeLive, disabled: false, want: true},
		{name: "lazy with cache disabled", mode: ModeLazy, disabled: true, want: true},
		{name: "batch with cache disabled", mode: ModeBatch, disabled: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Mode = tt.mode
			cfg.DisableAttachmentCache = tt.disabled
			require.Equal(t, tt.want, cfg.CacheEnabled())
		})
	}
}
