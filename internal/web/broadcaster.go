package web

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunIDField is the log field carrying the id of a run started from the page.
const RunIDField = "run_id"

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
	RunID string `json:"run,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Time: b.now().Format(time.RFC3339), Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Publish sends evt as is.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Hook returns a logrus hook forwarding every log entry to SSE clients.
// Register it with debug.AddHook.
func (b *StatusBroadcaster) Hook() logrus.Hook {
	return &broadcastHook{b: b}
}

type broadcastHook struct {
	b *StatusBroadcaster
}

func (h *broadcastHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *broadcastHook) Fire(e *logrus.Entry) error {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return nil
	}
	evt := StatusEvent{
		Time:  e.Time.Format(time.RFC3339),
		Level: e.Level.String(),
		Msg:   msg + formatFields(e.Data),
	}
	if id, ok := e.Data[RunIDField].(string); ok {
		evt.RunID = id
	}
	h.b.Publish(evt)
	return nil
}

// formatFields renders entry fields as " key=value", sorted by key.
// The run id travels in StatusEvent.RunID instead.
func formatFields(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != RunIDField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}
