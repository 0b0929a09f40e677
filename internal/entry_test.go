package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/memtree/internal/mcpserver"
	"github.com/starford/memtree/internal/sse"
	"github.com/starford/memtree/internal/testutil"
)

func runStdio(t *testing.T, cfg *Config, stdin string) (string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := Run(ctx, WithConfig(cfg), WithStdio(strings.NewReader(stdin), &stdout, &stderr))
	if err != nil {
		t.Fatalf("Run: %v\nlogs: %s", err, stderr.String())
	}
	return stdout.String(), stderr.String()
}

func TestRun_StdioCreatesMemoryFile(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Memory.File = filepath.Join(dir, "nested", "memories.json")

	_, logs := runStdio(t, cfg, "")

	data, err := os.ReadFile(cfg.Memory.File)
	if err != nil {
		t.Fatalf("memory file not created: %v", err)
	}
	if !strings.Contains(string(data), `"description": "root"`) {
		t.Errorf("unexpected file contents: %s", data)
	}
	if !strings.Contains(logs, "Configuration loaded") {
		t.Errorf("logs should go to stderr, got %q", logs)
	}
}

func TestRun_SQLiteDriver(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Memory.File = "memories.json"
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.SQLitePath = filepath.Join(dir, "memtree.db")

	runStdio(t, cfg, "")

	if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
		t.Fatalf("sqlite database not created: %v", err)
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("Run without config should fail")
	}
}

func testHandler(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	store, _ := testutil.TestStore(t)
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	return newHTTPHandler(cfg, store, broker, mcpserver.New(store, testutil.DiscardLogger()))
}

func TestHTTPHandler_Health(t *testing.T) {
	h := testHandler(t, NewDefaultConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if body["status"] != "ok" {
			t.Errorf("%s body = %s", path, w.Body.String())
		}
	}
}

func TestHTTPHandler_APIMounted(t *testing.T) {
	h := testHandler(t, NewDefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/memories", strings.NewReader(`{"description":"a"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/children", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `"description":"a"`) {
		t.Errorf("children = %s", body)
	}
}

func TestHTTPHandler_PercentKeyThroughMount(t *testing.T) {
	h := testHandler(t, NewDefaultConfig())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/memories", strings.NewReader(`{"description":"100%"}`)))
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/memories/100%25", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("read = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"description":"100%"`) {
		t.Errorf("read body = %s", w.Body.String())
	}
}

func TestOpenProvider_WatchPath(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Memory.File = filepath.Join(dir, "memories.json")

	backend, err := openProvider(cfg)
	if err != nil {
		t.Fatalf("openProvider: %v", err)
	}
	defer backend.close()
	if backend.name != "memories.json" {
		t.Errorf("name = %q", backend.name)
	}
	if backend.watchPath != cfg.Memory.File {
		t.Errorf("watchPath = %q, want %q", backend.watchPath, cfg.Memory.File)
	}

	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.SQLitePath = filepath.Join(dir, "memtree.db")
	backend, err = openProvider(cfg)
	if err != nil {
		t.Fatalf("openProvider sqlite: %v", err)
	}
	defer backend.close()
	if backend.watchPath != "" {
		t.Errorf("sqlite watchPath = %q, want empty", backend.watchPath)
	}
}

func TestHTTPHandler_AuthCoversMCP(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "tok"}
	h := testHandler(t, cfg)

	for _, path := range []string{"/api/memories", "/mcp"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health should stay open, got %d", w.Code)
	}
}
