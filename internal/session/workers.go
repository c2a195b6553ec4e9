package session

import (
	"context"
	"errors"
	"time"

	"github.com/fsmweb/uploader/internal/differ"
	"github.com/fsmweb/uploader/internal/dispatch"
	"github.com/fsmweb/uploader/internal/history"
	"github.com/fsmweb/uploader/internal/queue"
)

// startWorkers launches every task that runs while connected. All of them
// exit when ctx is cancelled.
func (s *Session) startWorkers(ctx context.Context) {
	uploadDispatcher := dispatch.New(s.uploads, s.sched, s.sendUpload, &dispatch.Config{
		Interval:  s.cfg.DispatchInterval,
		CoolOff:   s.cfg.CoolOff,
		Now:       s.opts.Now,
		CheckTime: s.checkTime,
		Observe:   s.observe,
		Logger:    s.opts.Loggers("dispatch"),
	})
	s.spawn(func() { uploadDispatcher.Run(ctx) })
	s.spawn(func() { s.runUploader(ctx) })
	s.spawn(func() { s.runKeepalive(ctx) })

	if s.copier != nil {
		copyDispatcher := dispatch.New(s.copies, nil, s.sendCopy, &dispatch.Config{
			Interval: s.cfg.DispatchInterval,
			CoolOff:  s.cfg.CoolOff,
			Now:      s.opts.Now,
			Observe:  s.observe,
			Logger:   s.opts.Loggers("dispatch"),
		})
		s.spawn(func() { copyDispatcher.Run(ctx) })
		s.spawn(func() { s.runCopier(ctx) })
	}

	s.spawn(func() { s.catchUp() })
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) sendUpload(ctx context.Context, path string) error {
	select {
	case s.inbox <- command{kind: cmdUpload, path: path}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) sendCopy(ctx context.Context, path string) error {
	select {
	case s.copyCh <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) observe(res dispatch.Result) {
	for _, path := range res.Held {
		s.emit(Event{Kind: EventHeld, Path: path, Message: "Waiting for release time"})
	}
	s.emit(Event{Kind: EventQueue})
}

// catchUp offers every file that changed since the last snapshot, and every
// artifact missing from the website, as if the watchers had just seen it.
func (s *Session) catchUp() {
	now := s.opts.Now()

	if s.cfg.Artifacts != nil {
		pdfs, err := differ.ListPDFsToCopy(s.cfg.Artifacts.SourceRoot, s.cfg.Artifacts.DestDir, differ.TargetPDFs)
		if err != nil {
			s.logger.Printf("Failed to list artifacts: %v", err)
			s.emit(Event{Kind: EventWarning, Err: err, Message: err.Error()})
		}
		for _, p := range pdfs {
			s.copies.Add(p, now, queue.OpCreate)
		}
		s.logger.Printf("Initial scan found %d artifacts to copy", len(pdfs))
	}

	files, err := differ.ListFilesToUpload(s.cfg.WebsiteDir, s.previous)
	if err != nil {
		s.logger.Printf("Failed to scan website directory: %v", err)
		s.raise(err)
		return
	}
	for _, p := range files {
		s.uploads.Add(p, now, queue.OpCreate)
	}
	s.logger.Printf("Initial scan found %d files to upload", len(files))
	s.emit(Event{Kind: EventQueue})
}

// runUploader is the single consumer of the uploader inbox.
func (s *Session) runUploader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			switch cmd.kind {
			case cmdUpload:
				s.handleUpload(ctx, cmd.path)
			case cmdKeepalive:
				s.handleKeepalive(ctx)
			}
		}
	}
}

func (s *Session) handleUpload(ctx context.Context, path string) {
	err := s.uploader.Upload(ctx, path)
	switch {
	case err == nil:
		s.uploads.Complete(path)
		s.mu.Lock()
		s.uploaded++
		s.lastTransfer = s.opts.Now()
		s.mu.Unlock()
		s.record(history.KindUpload, path, "")
		s.emit(Event{Kind: EventUploaded, Path: path})

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return

	case IsFileLocal(err):
		// the file vanished or is unreadable; a new event re-queues it
		s.uploads.Remove(path)
		s.logger.Printf("Skipping %s: %v", path, err)
		s.record(history.KindFailure, path, err.Error())
		s.emit(Event{Kind: EventWarning, Path: path, Err: err, Message: err.Error()})

	default:
		s.record(history.KindFailure, path, err.Error())
		s.raise(err)
	}
}

func (s *Session) handleKeepalive(ctx context.Context) {
	defer s.keepalivePending.Store(false)

	if err := s.uploader.Keepalive(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.record(history.KindFailure, "", err.Error())
		s.raise(err)
		return
	}
	s.markTransfer()
	s.record(history.KindKeepalive, "", "")
	s.emit(Event{Kind: EventKeepalive})
}

// runKeepalive asks the uploader for a keepalive once the connection has been
// idle for the server timeout less the margin.
func (s *Session) runKeepalive(ctx context.Context) {
	ticker := time.NewTicker(s.opts.KeepaliveTick)
	defer ticker.Stop()

	threshold := s.cfg.Timeout - s.opts.KeepaliveMargin
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sinceTransfer() < threshold {
				continue
			}
			if !s.keepalivePending.CompareAndSwap(false, true) {
				continue
			}
			select {
			case s.inbox <- command{kind: cmdKeepalive}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runCopier is the single consumer of the copy inbox. Failures leave the
// entry queued until a fresh filesystem event arrives.
func (s *Session) runCopier(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-s.copyCh:
			if err := s.copier.Copy(path); err != nil {
				s.copies.Fail(path)
				s.record(history.KindFailure, path, err.Error())
				s.emit(Event{Kind: EventWarning, Path: path, Err: err, Message: err.Error()})
				continue
			}
			s.copies.Complete(path)
			s.mu.Lock()
			s.copied++
			s.mu.Unlock()
			s.record(history.KindCopy, path, s.copier.Destination(path))
			s.emit(Event{Kind: EventCopied, Path: path, Message: s.copier.Destination(path)})
		}
	}
}
