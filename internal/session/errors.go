package session

import (
	"errors"

	"github.com/fsmweb/uploader/internal/config"
	"github.com/fsmweb/uploader/internal/copier"
	"github.com/fsmweb/uploader/internal/differ"
	"github.com/fsmweb/uploader/internal/ftp"
	"github.com/fsmweb/uploader/internal/schedule"
)

// ErrStartup wraps failures before the connection is made: snapshot,
// timetable or watcher setup.
var ErrStartup = errors.New("session failed to start")

// IsFatal returns true if err ends the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStartup) ||
		errors.Is(err, config.ErrInvalid) ||
		errors.Is(err, differ.ErrIndexMissing) ||
		errors.Is(err, schedule.ErrTimetableNotFound) ||
		errors.Is(err, ftp.ErrConnection) ||
		errors.Is(err, ftp.ErrWorkingDirectory) ||
		errors.Is(err, ftp.ErrRetryLimit) ||
		errors.Is(err, ftp.ErrKeepalive)
}

// IsFileLocal returns true if err affects only one file; the session logs it
// and carries on.
func IsFileLocal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, copier.ErrCopy) || errors.Is(err, ftp.ErrLocalRead)
}
