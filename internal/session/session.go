// Package session runs one upload session: it owns the watchers, queues,
// dispatchers, the FTP uploader and the artifact copier, sequences their
// lifecycles and decides which failures are fatal.
//
// Components talk to the session through channels. The only state shared
// between goroutines is the two queues, which are internally locked.
//
// Stopping is two-phase. Stop stops accepting filesystem signals and waits,
// bounded by the drain timeout, for the upload queue to empty; teardown then
// runs unconditionally. The snapshot is written only after a completed drain.
// Cancelling the Run context or a fatal error goes straight to teardown.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsmweb/uploader/internal/config"
	"github.com/fsmweb/uploader/internal/copier"
	"github.com/fsmweb/uploader/internal/differ"
	"github.com/fsmweb/uploader/internal/ftp"
	"github.com/fsmweb/uploader/internal/history"
	"github.com/fsmweb/uploader/internal/queue"
	"github.com/fsmweb/uploader/internal/schedule"
	"github.com/fsmweb/uploader/internal/snapshot"
	"github.com/fsmweb/uploader/internal/watcher"
)

// Recorder receives a history record for every transfer and failure.
// *history.Store satisfies it.
type Recorder interface {
	Append(r history.Record) error
}

// Options holds the collaborators and timings of a session. Zero values
// select production defaults.
type Options struct {
	// Dial opens FTP connections. Defaults to ftp.DialServer.
	Dial ftp.DialFunc

	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time

	// CheckTime, if set, replaces the wall clock for release decisions and
	// for the shutdown trim.
	CheckTime *time.Time

	// Location interprets timetable times. Defaults to time.Local.
	Location *time.Location

	// History, if set, records every transfer.
	History Recorder

	// Loggers returns a logger for a component name. Defaults to stderr
	// loggers with a bracketed prefix.
	Loggers func(component string) *log.Logger

	DrainTimeout    time.Duration // default 60s
	DrainPoll       time.Duration // default 1s
	KeepaliveTick   time.Duration // default 1s
	KeepaliveMargin time.Duration // default 1m
	EventBuffer     int           // default 256
}

func (o *Options) setDefaults() {
	if o.Dial == nil {
		o.Dial = ftp.DialServer
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Loggers == nil {
		o.Loggers = func(component string) *log.Logger {
			return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
		}
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 60 * time.Second
	}
	if o.DrainPoll <= 0 {
		o.DrainPoll = time.Second
	}
	if o.KeepaliveTick <= 0 {
		o.KeepaliveTick = time.Second
	}
	if o.KeepaliveMargin <= 0 {
		o.KeepaliveMargin = time.Minute
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
}

// Status is a point-in-time view of a running session.
type Status struct {
	State        ftp.State
	Secure       bool
	Uploaded     int
	Copied       int
	LastTransfer time.Time
	Upload       queue.Sizes
	Copy         queue.Sizes
}

type commandKind int

const (
	cmdUpload commandKind = iota
	cmdKeepalive
)

type command struct {
	kind commandKind
	path string
}

// Session is a single run. It cannot be restarted; build a new one from a
// new config.Session to change settings.
type Session struct {
	cfg    *config.Session
	opts   Options
	logger *log.Logger

	uploads  *queue.Queue
	copies   *queue.Queue
	sched    *schedule.Schedule
	previous snapshot.Snapshot

	uploader *ftp.Uploader
	copier   *copier.Copier

	events chan Event
	inbox  chan command
	copyCh chan string
	fatal  chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	started  atomic.Bool

	accepting        atomic.Bool
	keepalivePending atomic.Bool

	mu           sync.Mutex
	lastTransfer time.Time
	uploaded     int
	copied       int

	wg sync.WaitGroup
}

// New creates a session for cfg. Nothing happens until Run.
func New(cfg *config.Session, opts Options) *Session {
	opts.setDefaults()

	s := &Session{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Loggers("session"),
		uploads: queue.New("upload"),
		copies:  queue.New("copy"),
		events:  make(chan Event, opts.EventBuffer),
		inbox:   make(chan command, 100),
		copyCh:  make(chan string, 100),
		fatal:   make(chan error, 1),
		stopCh:  make(chan struct{}),
	}

	s.uploader = ftp.New(&ftp.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Username:      cfg.Username,
		Password:      cfg.Password,
		RemoteDir:     cfg.RemoteDir,
		AllowInsecure: cfg.AllowInsecure,
		Replacements:  cfg.Edits,
		Dial:          opts.Dial,
		Logger:        opts.Loggers("ftp"),
	})
	if cfg.Artifacts != nil {
		s.copier = copier.New(cfg.Artifacts.DestDir, opts.Loggers("copier"))
	}
	return s
}

// Events returns the status event channel. It is closed when Run returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Stop requests a graceful stop. It returns immediately; Run returns once
// teardown is complete.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Status returns counters and queue sizes.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:        s.uploader.State(),
		Secure:       s.uploader.Secure(),
		Uploaded:     s.uploaded,
		Copied:       s.copied,
		LastTransfer: s.lastTransfer,
		Upload:       s.uploads.Sizes(),
		Copy:         s.copies.Sizes(),
	}
}

func (s *Session) checkTime() time.Time {
	if s.opts.CheckTime != nil {
		return *s.opts.CheckTime
	}
	return s.opts.Now()
}

// Run executes the session until it is stopped, ctx is cancelled, or a fatal
// error occurs. It returns nil after a graceful stop or cancellation and the
// fatal error otherwise.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started")
	}
	defer close(s.events)

	if err := s.prepare(); err != nil {
		s.logger.Printf("Session failed to start: %v", err)
		s.emit(Event{Kind: EventFatal, Err: err, Message: err.Error()})
		s.emit(Event{Kind: EventStopped})
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchers, err := s.startWatchers()
	if err != nil {
		s.emit(Event{Kind: EventFatal, Err: err, Message: err.Error()})
		s.emit(Event{Kind: EventStopped})
		return err
	}
	s.accepting.Store(true)

	if err := s.uploader.Connect(runCtx); err != nil {
		s.logger.Printf("Connection failed: %v", err)
		s.accepting.Store(false)
		cancel()
		s.teardown(watchers)
		s.emit(Event{Kind: EventFatal, Err: err, Message: err.Error()})
		s.emit(Event{Kind: EventStopped})
		return err
	}
	s.markTransfer()
	s.emit(Event{Kind: EventConnected, Message: s.connectedMessage()})

	s.startWorkers(runCtx)

	graceful, runErr := s.wait(ctx)

	s.accepting.Store(false)
	cancel()
	s.teardown(watchers)

	if runErr != nil {
		s.emit(Event{Kind: EventFatal, Err: runErr, Message: runErr.Error()})
	} else if graceful && s.cfg.SnapshotPath != "" {
		if err := s.writeSnapshot(); err != nil {
			s.logger.Printf("Failed to write snapshot: %v", err)
			s.emit(Event{Kind: EventWarning, Err: err, Message: err.Error()})
		} else {
			s.emit(Event{Kind: EventSnapshotWritten, Path: s.cfg.SnapshotPath})
		}
	}

	s.emit(Event{Kind: EventStopped})
	return runErr
}

// prepare performs every check that must pass before any network activity.
func (s *Session) prepare() error {
	if s.cfg.SnapshotPath != "" {
		prev, err := snapshot.Load(s.cfg.SnapshotPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStartup, err)
		}
		s.previous = prev
	} else {
		s.previous = snapshot.Snapshot{}
	}

	sched, err := differ.ReadSchedule(s.cfg.WebsiteDir, s.opts.Location)
	if err != nil {
		return err
	}
	s.sched = sched
	s.logger.Printf("Panel schedule has %d entries", sched.Len())
	return nil
}

func (s *Session) connectedMessage() string {
	mode := "TLS"
	if !s.uploader.Secure() {
		mode = "plaintext"
	}
	return fmt.Sprintf("Connected to %s (%s), working directory %s", s.uploader.Addr(), mode, s.cfg.RemoteDir)
}

// wait blocks until stop, cancellation or a fatal error. graceful is true
// only when a requested stop drained the upload queue in time.
func (s *Session) wait(ctx context.Context) (graceful bool, err error) {
	select {
	case <-ctx.Done():
		s.logger.Printf("Session cancelled")
		return false, nil
	case err := <-s.fatal:
		return false, err
	case <-s.stopCh:
	}

	s.accepting.Store(false)
	s.emit(Event{Kind: EventStopping, Message: "Waiting for the upload queue to drain"})
	s.logger.Printf("Stop requested, draining upload queue")

	poll := time.NewTicker(s.opts.DrainPoll)
	defer poll.Stop()
	emergency := time.NewTimer(s.opts.DrainTimeout)
	defer emergency.Stop()

	for {
		if s.uploads.Sizes().Pending == 0 {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-s.fatal:
			return false, err
		case <-emergency.C:
			s.logger.Printf("Upload queue did not drain within %v, stopping anyway", s.opts.DrainTimeout)
			s.emit(Event{Kind: EventWarning, Message: "Upload queue did not drain; snapshot not written"})
			return false, nil
		case <-poll.C:
		}
	}
}

// teardown stops every task and waits for them, then closes the connection.
func (s *Session) teardown(watchers []*watcher.Watcher) {
	for _, w := range watchers {
		if err := w.Stop(); err != nil {
			s.logger.Printf("Failed to stop watcher: %v", err)
		}
	}
	s.wg.Wait()
	s.uploader.Close()
	s.uploads.Clear()
	s.copies.Clear()
}

func (s *Session) writeSnapshot() error {
	snap, err := snapshot.SnapshotDirectory(s.cfg.WebsiteDir)
	if err != nil {
		return err
	}
	snap = snapshot.Trim(snap, s.sched, s.checkTime())
	if err := snapshot.Save(s.cfg.SnapshotPath, snap); err != nil {
		return err
	}
	s.logger.Printf("Wrote %d entries to %s", len(snap), s.cfg.SnapshotPath)
	return nil
}

// raise reports a fatal error. Only the first one is kept.
func (s *Session) raise(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// emit delivers an event without blocking. A full channel drops the event.
func (s *Session) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.opts.Now()
	}
	ev.Upload = s.uploads.Sizes()
	ev.Copy = s.copies.Sizes()

	select {
	case s.events <- ev:
	default:
		s.logger.Printf("Event channel full, dropping %s event", ev.Kind)
	}
}

func (s *Session) record(kind history.Kind, path, detail string) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Append(history.Record{Time: s.opts.Now(), Kind: kind, Path: path, Detail: detail}); err != nil {
		s.logger.Printf("Failed to record history: %v", err)
	}
}

func (s *Session) markTransfer() {
	s.mu.Lock()
	s.lastTransfer = s.opts.Now()
	s.mu.Unlock()
}

func (s *Session) sinceTransfer() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Now().Sub(s.lastTransfer)
}

func (s *Session) startWatchers() ([]*watcher.Watcher, error) {
	site, err := watcher.New(watcher.Options{Now: s.opts.Now, Logger: s.opts.Loggers("watcher")})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	if err := site.Start(s.cfg.WebsiteDir); err != nil {
		_ = site.Stop()
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	watchers := []*watcher.Watcher{site}
	s.forward(site, s.uploads)

	if s.cfg.Artifacts != nil {
		pdfs, err := watcher.New(watcher.Options{
			Recursive: true,
			Suffixes:  differ.TargetPDFs,
			Now:       s.opts.Now,
			Logger:    s.opts.Loggers("watcher"),
		})
		if err == nil {
			err = pdfs.Start(s.cfg.Artifacts.WatchRoot)
			if err != nil {
				_ = pdfs.Stop()
			}
		}
		if err != nil {
			s.teardown(watchers)
			return nil, fmt.Errorf("%w: %v", ErrStartup, err)
		}
		watchers = append(watchers, pdfs)
		s.forward(pdfs, s.copies)
	}
	return watchers, nil
}

// forward feeds watcher events into q until the watcher is stopped. Deletes
// and moves are observed but not acted on.
func (s *Session) forward(w *watcher.Watcher, q *queue.Queue) {
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		for ev := range w.Events() {
			if !s.accepting.Load() {
				continue
			}
			switch ev.Op {
			case queue.OpCreate, queue.OpModify:
				q.Add(ev.Path, ev.Time, ev.Op)
				s.emit(Event{Kind: EventQueue, Path: ev.Path, Message: q.Name() + " " + ev.Op.String()})
			default:
				s.logger.Printf("Ignoring %s of %s", ev.Op, ev.Path)
			}
		}
	}()

	go func() {
		defer s.wg.Done()
		for err := range w.Errors() {
			s.logger.Printf("Watcher error: %v", err)
			s.emit(Event{Kind: EventWarning, Err: err, Message: err.Error()})
		}
	}()
}
