package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/starford/memtree/internal/memstore"
	"github.com/starford/memtree/internal/testutil"
)

// testEnv sets up a temp store and router. An empty authToken means
// disabled mode.
func testEnv(t *testing.T, authToken string) (*memstore.Store, http.Handler) {
	t.Helper()
	store, _ := testutil.TestStore(t)
	router := NewRouter(store, authToken != "", authToken, nil)
	return store, router
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req = httptest.NewRequest(method, target, bytes.NewReader(raw))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAddAndReadMemory(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/memories", map[string]any{
		"description": "projects",
		"content":     "active work",
		"tags":        []string{"work"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	var added AddMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &added)
	if added.ID == "" || len(added.Position) != 1 || added.Position[0] != "projects" {
		t.Errorf("add result = %+v", added)
	}

	w = do(t, router, http.MethodPost, "/memories/projects", map[string]any{"description": "memtree"})
	if w.Code != http.StatusCreated {
		t.Fatalf("nested add status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/memories/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d", w.Code)
	}
	var got ReadMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Content == nil || *got.Content != "active work" {
		t.Errorf("content = %v", got.Content)
	}
	if got.Author != "user" || !got.HasChildren || got.AccessCount != 1 {
		t.Errorf("read result = %+v", got)
	}
}

func TestReadRoot(t *testing.T) {
	_, router := testEnv(t, "")

	for _, target := range []string{"/memories", "/memories/"} {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, w.Code)
		}
		var got ReadMemoryResponse
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		if got.Description != "root" {
			t.Errorf("%s description = %q, want root", target, got.Description)
		}
	}
}

func TestEscapedSlashInKey(t *testing.T) {
	store, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/memories", map[string]any{"description": "a/b"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d", w.Code)
	}
	testutil.Seed(t, store, []string{"a/b", "c"})

	w = do(t, router, http.MethodGet, "/memories/a%2Fb/c", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, body = %s", w.Code, w.Body.String())
	}
	var got ReadMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Description != "c" {
		t.Errorf("description = %q, want c", got.Description)
	}
}

func TestPercentInKeyIsUnescapedOnce(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.Seed(t, store, []string{"100%"}, []string{"x%41"}, []string{"xA"})

	w := do(t, router, http.MethodGet, "/memories/"+url.PathEscape("100%"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read 100%% status = %d, body = %s", w.Code, w.Body.String())
	}
	var got ReadMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Description != "100%" {
		t.Errorf("description = %q, want 100%%", got.Description)
	}

	w = do(t, router, http.MethodGet, "/memories/x%2541", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read x%%41 status = %d, body = %s", w.Code, w.Body.String())
	}
	got = ReadMemoryResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Description != "x%41" {
		t.Errorf("description = %q, want x%%41", got.Description)
	}

	w = do(t, router, http.MethodDelete, "/memories/x%2541", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d, body = %s", w.Code, w.Body.String())
	}
	var removed RemoveMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &removed)
	if removed.Removed != "x%41" {
		t.Errorf("removed = %q, want x%%41", removed.Removed)
	}

	sibling, err := store.Read(context.Background(), []string{"xA"})
	if err != nil {
		t.Fatalf("sibling xA gone: %v", err)
	}
	if sibling.AccessCount != 1 {
		t.Errorf("xA access_count = %d, want 1", sibling.AccessCount)
	}
	if _, err := store.Read(context.Background(), []string{"x%41"}); err == nil {
		t.Errorf("%q should be removed", "x%41")
	}
}

func TestAddKeepsExplicitEmptyAuthor(t *testing.T) {
	store, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/memories", map[string]any{"description": "anon", "author": ""})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/memories", map[string]any{"description": "default"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}

	res, err := store.Read(context.Background(), []string{"anon"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Author != "" {
		t.Errorf("author = %q, want empty", res.Author)
	}
	res, err = store.Read(context.Background(), []string{"default"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Author != "user" {
		t.Errorf("author = %q, want user", res.Author)
	}
}

func TestAddDuplicate(t *testing.T) {
	_, router := testEnv(t, "")

	body := map[string]any{"description": "dup"}
	if w := do(t, router, http.MethodPost, "/memories", body); w.Code != http.StatusCreated {
		t.Fatalf("first add = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/memories", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate add = %d, want 409", w.Code)
	}
}

func TestAddBadRequests(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodPost, "/memories", map[string]any{"content": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing description = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/memories", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d, want 400", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/memories/ghost", map[string]any{"description": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("missing parent = %d, want 404", w.Code)
	}

	if w := do(t, router, http.MethodGet, "/memories/a//b", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty segment = %d, want 400", w.Code)
	}
}

func TestListChildren(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.Seed(t, store, []string{"b"}, []string{"a"}, []string{"b", "x"})

	w := do(t, router, http.MethodGet, "/children", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var got ListChildrenResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if len(got.Children) != 2 || got.Children[0].Description != "b" || got.Children[0].ChildrenCount != 1 {
		t.Errorf("children = %+v", got.Children)
	}

	if w := do(t, router, http.MethodGet, "/children/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing list = %d, want 404", w.Code)
	}
}

func TestEditMemory(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.Seed(t, store, []string{"a"}, []string{"b"})

	w := do(t, router, http.MethodPatch, "/memories/a", map[string]any{"description": "renamed", "content": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	var got EditMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Description != "renamed" || got.UpdatedAt.IsZero() {
		t.Errorf("edit result = %+v", got)
	}

	read, err := store.Read(context.Background(), []string{"renamed"})
	if err != nil {
		t.Fatal(err)
	}
	if read.Content == nil || *read.Content != "" {
		t.Errorf("content = %v, want empty string", read.Content)
	}

	if w := do(t, router, http.MethodPatch, "/memories/b", map[string]any{"description": "renamed"}); w.Code != http.StatusConflict {
		t.Errorf("sibling clash = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPatch, "/memories", map[string]any{"content": "x"}); w.Code != http.StatusForbidden {
		t.Errorf("edit root = %d, want 403", w.Code)
	}
	if w := do(t, router, http.MethodPatch, "/memories/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("edit missing = %d, want 404", w.Code)
	}
}

func TestEditWithEmptyBodyStampsUpdatedAt(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.Seed(t, store, []string{"a"})

	if w := do(t, router, http.MethodPatch, "/memories/a", nil); w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	read, err := store.Read(context.Background(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if read.UpdatedAt == nil {
		t.Error("updated_at not stamped")
	}
}

func TestRemoveMemory(t *testing.T) {
	store, router := testEnv(t, "")
	testutil.Seed(t, store, []string{"a"}, []string{"a", "b"})

	w := do(t, router, http.MethodDelete, "/memories/a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d", w.Code)
	}
	var got RemoveMemoryResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Removed != "a" || got.ChildrenRemoved != 1 {
		t.Errorf("remove result = %+v", got)
	}

	if w := do(t, router, http.MethodDelete, "/memories/a", nil); w.Code != http.StatusNotFound {
		t.Errorf("second remove = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/memories", nil); w.Code != http.StatusForbidden {
		t.Errorf("remove root = %d, want 403", w.Code)
	}
	if store.Count() != 0 {
		t.Errorf("count = %d, want 0", store.Count())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	raw, _ := json.Marshal(map[string]string{"description": "auth"})
	req := httptest.NewRequest(http.MethodPost, "/memories", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed add = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/memories", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/memories", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/memories", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// testEnvWithSSE creates a router with a dummy SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	store, _ := testutil.TestStore(t)
	sse := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	})
	return NewRouter(store, authEnabled, token, sse)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE without token = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with token = %d, want 200", w.Code)
	}
}
