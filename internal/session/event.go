package session

import (
	"time"

	"github.com/fsmweb/uploader/internal/queue"
)

// EventKind identifies a status event.
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventUploaded        EventKind = "uploaded"
	EventCopied          EventKind = "copied"
	EventKeepalive       EventKind = "keepalive"
	EventQueue           EventKind = "queue"
	EventHeld            EventKind = "held"
	EventWarning         EventKind = "warning"
	EventFatal           EventKind = "fatal"
	EventStopping        EventKind = "stopping"
	EventSnapshotWritten EventKind = "snapshot_written"
	EventStopped         EventKind = "stopped"
)

// Event is a status update from a running session.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Path    string
	Message string
	Err     error

	// Queue occupancy at the time of the event.
	Upload queue.Sizes
	Copy   queue.Sizes
}
