package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/antibody/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "antibody.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunServesActions(t *testing.T) {
	t.Setenv("ANTIBODY_DEV_TOKEN", "gw-token")
	path := writeConfig(t, "agent_id: gw\nmode: demo\nlisten_addr: \"127.0.0.1:0\"\n")

	var served bool
	listen := func(_ context.Context, srv *http.Server) error {
		served = true
		if srv.Addr != "127.0.0.1:0" {
			t.Fatalf("unexpected addr %s", srv.Addr)
		}
		req := httptest.NewRequest(http.MethodPost, "/v1/actions", bytes.NewBufferString(`{"action":"sudo rm -rf /"}`))
		req.Header.Set("Authorization", "Bearer gw-token")
		res := httptest.NewRecorder()
		srv.Handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
		}
		var result types.ProcessResult
		if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if result.Decision != types.DecisionBlock || result.ThreatPublished == nil {
			t.Fatalf("unexpected result: %+v", result)
		}
		return http.ErrServerClosed
	}

	cmd := newRootCmd(func(string) string { return "" }, listen)
	cmd.SetArgs([]string{"--config", path, "--env-file", ""})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !served {
		t.Fatalf("listen was not called")
	}
}

func TestRunConfigFromEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("ANTIBODY_LISTEN_ADDR=127.0.0.1:7070\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("ANTIBODY_LISTEN_ADDR") })
	path := writeConfig(t, "agent_id: gw\n")

	listen := func(_ context.Context, srv *http.Server) error {
		if srv.Addr != "127.0.0.1:7070" {
			t.Fatalf("expected dotenv addr, got %s", srv.Addr)
		}
		return nil
	}
	getenv := func(key string) string {
		if key == "ANTIBODY_CONFIG_PATH" {
			return path
		}
		return ""
	}
	cmd := newRootCmd(getenv, listen)
	cmd.SetArgs([]string{"--env-file", envFile})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(context.Context, *http.Server) error { return listenErr }
	path := writeConfig(t, "agent_id: gw\n")

	cmd := newRootCmd(func(string) string { return "" }, listen)
	cmd.SetArgs([]string{"--config", path, "--env-file", ""})
	if err := cmd.ExecuteContext(context.Background()); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}

	bad := writeConfig(t, "mode: lenient\n")
	cmd = newRootCmd(func(string) string { return "" }, listen)
	cmd.SetArgs([]string{"--config", bad, "--env-file", ""})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("got %q", got)
	}
}
