package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/local/forumcast/internal/store"
)

func nopLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	s := New(st, nil, "secret", 60, nopLogger())
	tick := int64(1000)
	s.now = func() int64 { return tick }
	return s, st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler) *http.Cookie {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/login", map[string]string{"password": "secret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := rec.Result()
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()
	rec := doJSON(t, router, http.MethodPost, "/login", map[string]string{"password": "nope"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRouteRejectsMissingOrExpiredCookie(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/source-groups", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", rec.Code)
	}

	cookie := login(t, router)
	s.now = func() int64 { return 100000 }
	rec = doJSON(t, router, http.MethodGet, "/source-groups", nil, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired cookie: status = %d, want 401", rec.Code)
	}
}

func TestSourceGroupLifecycleThroughPanel(t *testing.T) {
	s, st := newTestServer(t)
	router := s.Router()
	cookie := login(t, router)
	ctx := context.Background()

	sg, err := st.UpsertSourceGroup(ctx, 555, "Test Group")
	if err != nil {
		t.Fatalf("seed source group: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/source-groups", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var groups []store.SourceGroup
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != sg.ID {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	rec = doJSON(t, router, http.MethodPost, "/source-groups/"+strconv.FormatInt(sg.ID, 10)+"/enabled", map[string]bool{"enabled": false}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, body=%s", rec.Code, rec.Body.String())
	}
	reloaded, err := st.SourceGroupByID(ctx, sg.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Enabled {
		t.Fatal("source group should be disabled after panel call")
	}
}

func TestRecoveryQueueThroughPanel(t *testing.T) {
	s, st := newTestServer(t)
	router := s.Router()
	cookie := login(t, router)
	ctx := context.Background()

	sg, err := st.UpsertSourceGroup(ctx, 1, "g")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertTopic(ctx, sg.ID, 10, "topic"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodPost, "/recovery/enqueue-manual", map[string]any{
		"source_group_id": sg.ID,
		"topic_id":         10,
		"channel_chat_id":  -100200,
		"reason":           "manual test",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/recovery/jobs/"+strconv.FormatInt(out.JobID, 10), nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/recovery/jobs/"+strconv.FormatInt(out.JobID, 10)+"/stop", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body=%s", rec.Code, rec.Body.String())
	}
}
