package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/fsmweb/uploader/internal/session"
)

// Handler turns session events into dashboard messages.
// It bridges between a running session and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{State: "starting"},
	}
}

// OnEvent updates the counters and broadcasts ev. Queue events only refresh
// the stats; every other kind is broadcast as an event message first.
func (h *Handler) OnEvent(ev session.Event) {
	h.mu.Lock()
	h.apply(ev)
	stats := h.stats
	h.mu.Unlock()

	if ev.Kind != session.EventQueue {
		data := EventData{
			Kind:    string(ev.Kind),
			Path:    ev.Path,
			Message: ev.Message,
		}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		h.send(MessageTypeEvent, ev.Time, data)
	}
	h.send(MessageTypeStats, ev.Time, stats)
}

// apply folds ev into the counters. Callers hold h.mu.
func (h *Handler) apply(ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		h.stats.State = "connected"
	case session.EventUploaded:
		h.stats.Uploaded++
		h.stats.LastTransfer = ev.Time
	case session.EventKeepalive:
		h.stats.Keepalives++
		h.stats.LastTransfer = ev.Time
	case session.EventCopied:
		h.stats.Copied++
	case session.EventWarning:
		h.stats.Warnings++
	case session.EventFatal:
		h.stats.State = "failed"
	case session.EventStopping:
		h.stats.State = "stopping"
	case session.EventStopped:
		if h.stats.State != "failed" {
			h.stats.State = "stopped"
		}
	}
	h.stats.UploadPending = ev.Upload.Pending
	h.stats.UploadHeld = ev.Upload.Held
	h.stats.CopyPending = ev.Copy.Pending
}

func (h *Handler) send(typ MessageType, at time.Time, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
