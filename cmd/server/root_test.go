package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnsi/hono-practice-sub007/internal/config"
	"github.com/nnsi/hono-practice-sub007/internal/server/handlers"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := "storage:\n  driver: sqlite\n  path: " + dbPath + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestServe_Lifecycle(t *testing.T) {
	t.Setenv("ACTIKO_JWT_SECRET", "lifecycle")
	cfg, err := config.LoadServer(writeConfig(t, filepath.Join(t.TempDir(), "server.db")))
	require.NoError(t, err)
	cfg.HTTP.Address = "127.0.0.1:0"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logger, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Post("http://"+addr+api.SyncPathPrefix+"task", "application/json", strings.NewReader(`{"items":[]}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ListenError(t *testing.T) {
	cfg, err := config.LoadServer(writeConfig(t, filepath.Join(t.TempDir(), "server.db")))
	require.NoError(t, err)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg.HTTP.Address = busy.Addr().String()

	err = serve(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.ErrorContains(t, err, "failed to listen")
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("ACTIKO_JWT_SECRET", "token-test")
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "server.db"))

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config", cfgPath, "token", "--user", "user-42", "--ttl", "1h"})
	require.NoError(t, root.Execute())

	claims, err := handlers.ValidateAccessToken(handlers.JWTConfig{Secret: []byte("token-test")}, strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Contains(t, stderr.String(), "expires in 1h0m0s")
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("ACTIKO_JWT_SECRET", "")
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--config", writeConfig(t, filepath.Join(t.TempDir(), "server.db")), "token", "--user", "u"})
	assert.ErrorContains(t, root.Execute(), "ACTIKO_JWT_SECRET is required")
}

func TestMigrateCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")

	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetArgs([]string{"--config", writeConfig(t, dbPath), "migrate"})
	require.NoError(t, root.Execute())

	assert.Contains(t, stdout.String(), "Migrations applied (sqlite)")
	assert.FileExists(t, dbPath)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}
