package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunVerifies(t *testing.T) {
	t.Parallel()

	cases := map[string]func(cfg *Config){
		"defaults": func(*Config) {},
		"no limit": func(cfg *Config) {
			cfg.MaxLive = 0
		},
		"tight limit": func(cfg *Config) {
			cfg.MaxLive = 2
			cfg.Threads = 100
		},
		"everything canceled": func(cfg *Config) {
			cfg.CancelRatio = 1
			cfg.Fanout = 8
		},
		"no cleanups": func(cfg *Config) {
			cfg.Cleanups = 0
		},
		"no threads": func(cfg *Config) {
			cfg.Threads = 0
		},
	}

	for name, modify := range cases {
		modify := modify
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			cfg.Threads = 300
			modify(cfg)

			report, err := Run(cfg, quietLogger())
			require.NoError(t, err)
			require.Equal(t, int64(cfg.Threads), report.Created)
			require.Equal(t, int64(cfg.Threads*cfg.Cleanups), report.CleanupsPushed)
			require.Equal(t, report.CleanupsPushed-report.CleanupsPopped, report.CleanupsRun)
			if cfg.Threads > 0 && cfg.CancelRatio < 1 {
				require.GreaterOrEqual(t, report.MaxRing, 2)
			}
			// a thread is only linked once its goroutine is running
			if cfg.MaxLive > 0 {
				require.LessOrEqual(t, report.MaxRing, cfg.MaxLive+1)
			}
		})
	}
}

func TestRootCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--threads", "50", "--fanout", "3", "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, stdout.String(), "threads created:  50\n")
	require.Contains(t, stdout.String(), "result:           ok\n")
	require.Empty(t, stderr.String())
}

func TestRootCommandRejectsConfig(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--fanout", "0"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "fanout: must be at least 1")
	require.Empty(t, stdout.String())
}
