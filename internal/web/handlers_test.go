package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/time/rate"
)

// ---------- Handler helpers ----------

func newTestHandlers(t *testing.T, run RunFunc) *Handlers {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"patrol.toml":  "name = \"Patrol\"\n",
		"sweep.yaml":   "name: Sweep\n",
		"notes.txt":    "ignored",
		"preset.json":  "{}",
		".hidden.toml": "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.toml"), 0o755); err != nil {
		t.Fatal(err)
	}
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		run,
		FormConfig{Camera: "192.168.254.3:80", Stream: "main", SaveDir: "DATA", RunsDir: dir},
		staticFS,
	)
}

type recordedRun struct {
	mu    sync.Mutex
	ids   []string
	paths []string
}

func (r *recordedRun) run(_ context.Context, id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.paths = append(r.paths, path)
	return nil
}

func postRun(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleRun(w, req)
	return w
}

// ---------- HandleRun ----------

func TestHandleRun_ValidPost(t *testing.T) {
	rec := &recordedRun{}
	h := newTestHandlers(t, rec.run)

	w := postRun(h, `{"file":"patrol.toml"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" || resp["id"] == "" {
		t.Errorf("response = %v", resp)
	}

	h.Wait()
	if len(rec.paths) != 1 || rec.paths[0] != filepath.Join(h.FormDefaults.RunsDir, "patrol.toml") {
		t.Errorf("run paths = %v", rec.paths)
	}
	if rec.ids[0] != resp["id"] {
		t.Errorf("run id = %q, response id = %q", rec.ids[0], resp["id"])
	}
	if h.Running() != "" {
		t.Errorf("still running after Wait: %q", h.Running())
	}
}

func TestHandleRun_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(t, (&recordedRun{}).run)
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleRun_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid_json", "not json"},
		{"empty_name", `{"file":""}`},
		{"traversal", `{"file":"../etc/passwd.toml"}`},
		{"absolute", `{"file":"/tmp/x.toml"}`},
		{"backslash", `{"file":"a\\b.toml"}`},
		{"extension", `{"file":"notes.txt"}`},
		{"unknown", `{"file":"missing.toml"}`},
		{"directory", `{"file":"sub.toml"}`},
		{"oversized", `{"file":"` + strings.Repeat("x", 2<<20) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordedRun{}
			h := newTestHandlers(t, rec.run)
			w := postRun(h, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			h.Wait()
			if len(rec.paths) != 0 {
				t.Errorf("run started for %s", tc.name)
			}
		})
	}
}

func TestHandleRun_NilRun(t *testing.T) {
	h := newTestHandlers(t, nil)
	w := postRun(h, `{"file":"patrol.toml"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleRun_ConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	blocking := make(chan struct{})
	slowRun := func(_ context.Context, _, _ string) error {
		close(started)
		<-blocking
		return nil
	}

	h := newTestHandlers(t, slowRun)
	h.Limiter = rate.NewLimiter(rate.Inf, 1)

	// First request starts the run
	if w := postRun(h, `{"file":"patrol.toml"}`); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	<-started
	if h.Running() == "" {
		t.Error("Running() should report the active run")
	}

	// Second request should be rejected as already running
	if w := postRun(h, `{"file":"sweep.yaml"}`); w.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w.Code, http.StatusConflict)
	}

	close(blocking)
	h.Wait()
}

func TestHandleRun_RateLimiting(t *testing.T) {
	rec := &recordedRun{}
	h := newTestHandlers(t, rec.run)

	if w := postRun(h, `{"file":"patrol.toml"}`); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	h.Wait()

	// Second request within StartInterval should be rate-limited
	if w := postRun(h, `{"file":"patrol.toml"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("rate-limited request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	h.Wait()
	if len(rec.paths) != 1 {
		t.Errorf("runs = %d, want 1", len(rec.paths))
	}
}

func TestHandleRun_FailureBroadcast(t *testing.T) {
	h := newTestHandlers(t, func(context.Context, string, string) error {
		return errors.New(`device error: step "b" (#2): relative move: timeout`)
	})
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := postRun(h, `{"file":"patrol.toml"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	h.Wait()

	var last StatusEvent
	for i := 0; i < 2; i++ {
		last = receive(t, ch)
	}
	if last.Level != "error" || !strings.Contains(last.Msg, `step "b" (#2)`) || last.RunID == "" {
		t.Errorf("last event = %+v", last)
	}
}

// ---------- HandleRuns ----------

func TestHandleRuns(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	w := httptest.NewRecorder()

	h.HandleRuns(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var runs []RunFile
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.File)
	}
	want := ".hidden.toml,patrol.toml,preset.json,sweep.yaml"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("runs = %s, want %s", got, want)
	}
}

func TestListRuns_MissingDir(t *testing.T) {
	runs, err := ListRuns(filepath.Join(t.TempDir(), "nope"))
	if err != nil || runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns = %v, %v; want empty list", runs, err)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Camera != "192.168.254.3:80" || fc.Stream != "main" || fc.SaveDir != "DATA" {
		t.Errorf("config = %+v", fc)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Server ----------

func TestServer_Routes(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", NewStatusBroadcaster(), nil, FormConfig{RunsDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	for path, want := range map[string]int{
		"/":        http.StatusOK,
		"/config":  http.StatusOK,
		"/runs":    http.StatusOK,
		"/missing": http.StatusNotFound,
	} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		if res.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, res.StatusCode, want)
		}
	}
	res, err := http.Post(ts.URL+"/runs", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /runs = %d, want 405", res.StatusCode)
	}
}

func TestServer_StreamAndShutdown(t *testing.T) {
	b := NewStatusBroadcaster()
	s, err := NewServer("127.0.0.1:0", b, nil, FormConfig{})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	res, err := http.Get("http://" + ln.Addr().String() + "/status/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(res.Body)
	if !sc.Scan() || sc.Text() != ": connected" {
		t.Fatalf("first line = %q", sc.Text())
	}
	for b.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	b.BroadcastMsg("hello")
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"msg":"hello"`) {
				t.Errorf("data line = %q", line)
			}
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
