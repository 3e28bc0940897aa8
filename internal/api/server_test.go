package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/herald/internal/generate"
	"github.com/kalambet/herald/internal/ledger"
	"github.com/kalambet/herald/internal/llm"
	"github.com/kalambet/herald/internal/pipeline"
	"github.com/kalambet/herald/internal/scoring"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

const testToken = "test-token"

type stubClient struct {
	response string
}

func (c *stubClient) Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	return c.response, nil
}

func newTestHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	controller := pipeline.NewController(
		store,
		pipeline.NewGatherer(nil, nil, nil, nil),
		scoring.NewDefault(),
		ledger.New(store),
		generate.NewOrchestrator(&stubClient{response: "x"}, nil),
		voice.NewStore(store),
		nil, nil,
		pipeline.Config{InterItemDelay: time.Millisecond},
	)

	deps := AppDeps{
		Store:      store,
		Voice:      voice.NewStore(store),
		Controller: controller,
	}
	return NewAppHandler(deps, testToken), store
}

func doRequest(h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/health", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/content", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuth_WrongToken(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/content", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListContent_ReturnsDecodedBodies(t *testing.T) {
	h, store := newTestHandler(t)

	bodyJSON, _ := json.Marshal([]string{"part one", "part two"})
	_, err := store.SaveContent(storage.ContentRecord{
		UUID:        "c1",
		Body:        string(bodyJSON),
		Kind:        "thread",
		SourceType:  "trend",
		SourceID:    "s1",
		ContentHash: "h1",
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveContent: %v", err)
	}

	w := doRequest(h, http.MethodGet, "/content", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var out []contentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 || len(out[0].Body) != 2 || out[0].Kind != "thread" {
		t.Fatalf("response = %+v", out)
	}
}

func TestGetContent_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/content/ghost", "", true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetProfile_DefaultWhenUnlearned(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/profile", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var out struct {
		Learned bool          `json:"learned"`
		Profile voice.Profile `json:"profile"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Learned {
		t.Error("nothing was learned yet")
	}
	if len(out.Profile.Tone) == 0 {
		t.Error("default profile should still carry tone descriptors")
	}
}

func TestPatchProfile_OverlaysPersisted(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPatch, "/profile", strings.NewReader(`{"tone":["gruff"]}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	// The edit lands on top of the default and is visible on the next GET.
	w = doRequest(h, http.MethodGet, "/profile", "", true)
	var out struct {
		Learned bool          `json:"learned"`
		Profile voice.Profile `json:"profile"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !out.Learned {
		t.Error("patched profile should count as persisted")
	}
	if len(out.Profile.Tone) != 1 || out.Profile.Tone[0] != "gruff" {
		t.Errorf("tone = %v, want [gruff]", out.Profile.Tone)
	}
	if out.Profile.TechnicalLevel == 0 {
		t.Error("untouched fields should keep their defaults")
	}
}

func TestPushTask_LandsInMirror(t *testing.T) {
	h, store := newTestHandler(t)

	body := `{"id":"task-7","title":"Ship hardware wallet support","labels":["feature"]}`
	w := doRequest(h, http.MethodPost, "/signals/task", body, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	records, err := store.GetMirrorSignals("task", 10)
	if err != nil {
		t.Fatalf("GetMirrorSignals: %v", err)
	}
	if len(records) != 1 || records[0].ID != "task-7" {
		t.Fatalf("mirror = %+v", records)
	}
}

func TestPushTask_RejectsInvalid(t *testing.T) {
	h, _ := newTestHandler(t)

	// Missing title.
	w := doRequest(h, http.MethodPost, "/signals/task", `{"id":"task-8"}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLearnVoice_UnconfiguredLearner(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodPost, "/voice/learn", `{"posts":["x"]}`, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStartRun_Accepted(t *testing.T) {
	h, store := newTestHandler(t)

	w := doRequest(h, http.MethodPost, "/runs", "", true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	// The background run is tiny (no sources) and records itself.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := store.GetRecentRuns(1)
		if err == nil && len(runs) == 1 && runs[0].State == "completed" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background run never completed")
}
