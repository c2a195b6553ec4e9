package ftp

import (
	"errors"
	"io"
	"net"
	"net/textproto"
)

// Sentinel errors for the upload session.
var (
	// ErrConnection indicates no control connection could be established,
	// either secure or (when permitted) plaintext.
	ErrConnection = errors.New("FTP connection could not be established")

	// ErrWorkingDirectory indicates the remote directory could not be entered.
	ErrWorkingDirectory = errors.New("failed to set working directory")

	// ErrRetryLimit indicates a file failed on every allowed attempt.
	ErrRetryLimit = errors.New("upload retry limit exceeded")

	// ErrKeepalive indicates the placeholder transfer failed.
	ErrKeepalive = errors.New("keepalive failed")

	// ErrNotConnected indicates an operation that needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrLocalRead indicates the local file could not be read for upload.
	ErrLocalRead = errors.New("failed to read file for upload")
)

// codeServiceNotAvailable is the reply a server sends before dropping the
// control connection.
const codeServiceNotAvailable = 421

// IsConnectionLost reports whether err means the control connection is gone
// and must be re-dialed before another transfer.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == codeServiceNotAvailable
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isNameResolution reports whether err is a DNS lookup failure.
func isNameResolution(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
