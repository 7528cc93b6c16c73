package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gwi.com/mindcare-assistant/internal/store"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "serve")
	require.Contains(t, names, "ingest")
	require.Contains(t, names, "index")
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestIngestCommand_RequiresPath(t *testing.T) {
	err := execute(t, "ingest")
	require.ErrorContains(t, err, `"path"`)
}

func TestIngestCommand_RequiresGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "index.db"))

	err := execute(t, "ingest", "--path", t.TempDir())
	require.ErrorContains(t, err, "GEMINI_API_KEY is required")
}

func TestServeCommand_BadConfig(t *testing.T) {
	err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	require.ErrorContains(t, err, "failed to read config")
}

func TestIndexCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	t.Setenv("DATABASE_URL", dbPath)

	s, err := store.NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateDataChunks(context.Background(), []store.DataChunk{
		{ID: "a", Content: "Rest is part of recovery.", Source: "guide.md", Embedding: []float32{1, 0}},
	}))
	require.NoError(t, s.Close())

	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetArgs(args)
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	require.Equal(t, "1 chunks\n", run("index", "stats"))
	require.Equal(t, "index cleared\n", run("index", "clear"))
	require.Equal(t, "0 chunks\n", run("index", "stats"))
}

type countingReloader struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls.Add(1)
	if r.fail.Load() {
		return errors.New("database is locked")
	}
	return nil
}

func (r *countingReloader) Count() int { return 0 }

func TestReloadOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal)
	r := &countingReloader{}
	done := make(chan struct{})
	go func() {
		reloadOnSignal(ctx, sig, r, zap.NewNop())
		close(done)
	}()

	sig <- syscall.SIGHUP
	sig <- syscall.SIGHUP
	r.fail.Store(true)
	sig <- syscall.SIGHUP
	r.fail.Store(false)
	sig <- syscall.SIGHUP

	// Unbuffered sends return once the loop has taken the signal, so three
	// reloads have finished and the fourth has at least started.
	require.Eventually(t, func() bool { return r.calls.Load() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reload loop did not stop after cancellation")
	}
}
