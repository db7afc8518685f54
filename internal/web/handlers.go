package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/PtzGo/internal/config"
	"github.com/cjeanneret/PtzGo/internal/debug"
)

// StartInterval is the minimum time between two accepted POST /run.
const StartInterval = 5 * time.Second

// maxBodyBytes bounds the POST /run body.
const maxBodyBytes = 1 << 20

// RunRequest is the POST /run body.
type RunRequest struct {
	File string `json:"file"`
}

// RunFunc executes the run file at path.
// It is called from the POST /run handler in a goroutine.
type RunFunc func(ctx context.Context, id, path string) error

// FormConfig holds the values shown by the page (from config).
type FormConfig struct {
	Camera  string `json:"camera"`
	Stream  string `json:"stream"`
	SaveDir string `json:"save_dir"`
	RunsDir string `json:"runs_dir"`
}

// RunFile is one entry of GET /runs.
type RunFile struct {
	File     string    `json:"file"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Run          RunFunc
	FormDefaults FormConfig
	Limiter      *rate.Limiter

	baseCtx   context.Context
	runningMu sync.Mutex
	running   string // id of the active run, "" when idle
	wg        sync.WaitGroup
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If run is nil, POST /run will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, run RunFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Run:          run,
		FormDefaults: formDefaults,
		Limiter:      rate.NewLimiter(rate.Every(StartInterval), 1),
		baseCtx:      context.Background(),
		staticFS:     staticFS,
	}
}

// Running returns the id of the run in progress, or "".
func (h *Handlers) Running() string {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// Wait blocks until the background run, if any, has returned.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRuns lists the run files found in the runs folder.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := ListRuns(h.FormDefaults.RunsDir)
	if err != nil {
		debug.Error(err)
		http.Error(w, "cannot list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListRuns returns the run files directly inside dir, sorted by name.
// A missing folder yields an empty list.
func ListRuns(dir string) ([]RunFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []RunFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	runs := []RunFile{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := config.ValidateRunPath(dir, e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, RunFile{File: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].File < runs[j].File })
	return runs, nil
}

// HandleRun handles POST /run to start a run file.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Validate
	path, err := config.ValidateRunPath(h.FormDefaults.RunsDir, req.File)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		http.Error(w, "unknown run file: "+req.File, http.StatusBadRequest)
		return
	}

	if h.Run == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running != "" {
		h.runningMu.Unlock()
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	if !h.Limiter.Allow() {
		h.runningMu.Unlock()
		http.Error(w, "too many requests, retry later", http.StatusTooManyRequests)
		return
	}
	id := uuid.NewString()
	h.running = id
	h.wg.Add(1)
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer h.wg.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = ""
			h.runningMu.Unlock()
		}()

		h.Broadcaster.Publish(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: "info", Msg: "Run started: " + req.File, RunID: id})
		if err := h.Run(h.baseCtx, id, path); err != nil {
			debug.Error(err)
			h.Broadcaster.Publish(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: "error", Msg: "Run failed: " + err.Error(), RunID: id})
			return
		}
		h.Broadcaster.Publish(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: "info", Msg: "Run complete", RunID: id})
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "id": id, "file": req.File})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(err)
	}
}
