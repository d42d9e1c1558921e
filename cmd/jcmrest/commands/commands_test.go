package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmrest/jcmrest/core"
	"github.com/jcmrest/jcmrest/platform"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, Execute())
	assert.Contains(t, out.String(), "jcmrest "+Version)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(os.ErrNotExist))

	cfg := core.DefaultConfig()
	cfg.Bridge.CommandTimeout = 0
	assert.Equal(t, 2, ExitCode(cfg.Validate()))
}

func TestServeOptionsPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jcmrest.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 9000\npool:\n  workers: 4\n"), 0o644))

	require.NoError(t, serveCmd.ParseFlags([]string{"--config", file, "--port", "9100", "--command-timeout", "5s"}))
	t.Cleanup(func() {
		serveFlags.config = ""
		for _, name := range []string{"config", "port", "command-timeout"} {
			serveCmd.Flags().Lookup(name).Changed = false
		}
	})

	cfg, err := core.NewConfig(serveOptions(serveCmd)...)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "flags override the file")
	assert.Equal(t, 4, cfg.Pool.Workers, "file values apply when no flag is set")
	assert.Equal(t, 5*time.Second, cfg.Bridge.CommandTimeout)
}

func TestCreateInitialAgent(t *testing.T) {
	cfg, err := core.NewConfig()
	require.NoError(t, err)
	p, err := platform.New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Shutdown(context.Background())

	src := filepath.Join(t.TempDir(), "alice.asl")
	require.NoError(t, os.WriteFile(src, []byte(`!go. +!go <- .print("up").`), 0o644))

	ctx := context.Background()
	require.NoError(t, createInitialAgent(ctx, p, "bob"))
	require.NoError(t, createInitialAgent(ctx, p, "alice="+src))
	assert.Equal(t, []string{"alice", "bob"}, p.Agents())

	assert.Error(t, createInitialAgent(ctx, p, "carol="+filepath.Join(t.TempDir(), "missing.asl")))
	assert.ErrorIs(t, createInitialAgent(ctx, p, "bob"), core.ErrAgentAlreadyExists)
}
