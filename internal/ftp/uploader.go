// Package ftp owns the single FTP/FTPS connection of an upload session.
//
// An Uploader is not safe for concurrent transfers: the session drives it from
// one goroutine so that at most one command is ever in flight. State may be
// read from any goroutine.
package ftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Retries is the number of attempts made for one file before giving up.
const Retries = 3

// KeepaliveFile is the placeholder stored to keep an idle session open.
const KeepaliveFile = ".keep"

// DefaultPort is the FTP control port used when the fallback address has none.
const DefaultPort = "21"

// State is the connection state of an Uploader.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateUploading
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// Config holds connection settings for an Uploader.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	RemoteDir string

	// AllowInsecure permits a plaintext connection when TLS fails.
	AllowInsecure bool

	// Replacements are applied to editable files before transfer.
	Replacements []Replacement

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// Dial opens connections. Defaults to DialServer.
	Dial DialFunc

	// Logger for transfer activity
	Logger *log.Logger
}

// Uploader sends files over one FTP connection.
type Uploader struct {
	config *Config

	conn   Conn
	secure bool

	mu    sync.Mutex
	state State
}

// New creates a disconnected Uploader.
func New(config *Config) *Uploader {
	if config.Dial == nil {
		config.Dial = DialServer
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[ftp] ", log.LstdFlags)
	}
	return &Uploader{config: config}
}

// State returns the current connection state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Uploader) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Secure reports whether the current connection is TLS protected.
func (u *Uploader) Secure() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.secure
}

// Addr returns the configured host:port.
func (u *Uploader) Addr() string {
	return net.JoinHostPort(u.config.Host, fmt.Sprint(u.config.Port))
}

// Connect establishes the session connection and enters the remote directory.
// TLS is tried first. A name resolution failure is retried against the bare
// host, and any other failure falls back to plaintext only when AllowInsecure
// is set.
func (u *Uploader) Connect(ctx context.Context) error {
	u.setState(StateConnecting)

	conn, secure, err := u.dial(ctx)
	if err != nil {
		u.setState(StateDisconnected)
		return err
	}

	if err := conn.ChangeDir(u.config.RemoteDir); err != nil {
		u.config.Logger.Printf("Failed to set working directory with following error: %v", err)
		_ = conn.Quit()
		u.setState(StateDisconnected)
		return fmt.Errorf("%w %q: %v", ErrWorkingDirectory, u.config.RemoteDir, err)
	}
	u.config.Logger.Printf("Set working directory to %s", u.config.RemoteDir)

	u.conn = conn
	u.mu.Lock()
	u.secure = secure
	u.state = StateConnected
	u.mu.Unlock()
	return nil
}

func (u *Uploader) dial(ctx context.Context) (Conn, bool, error) {
	req := DialRequest{
		Addr:       u.Addr(),
		ServerName: u.config.Host,
		Secure:     true,
		Username:   u.config.Username,
		Password:   u.config.Password,
		Timeout:    u.config.DialTimeout,
	}

	conn, err := u.config.Dial(ctx, req)
	if err != nil && isNameResolution(err) {
		if alt := fallbackAddr(u.config.Host); alt != req.Addr {
			u.config.Logger.Printf("Could not resolve %s, retrying with %s", req.Addr, alt)
			req.Addr = alt
			req.ServerName = hostOnly(u.config.Host)
			conn, err = u.config.Dial(ctx, req)
		}
	}
	if err == nil {
		return conn, true, nil
	}

	u.config.Logger.Printf("Secure connection failed with following error: %v", err)
	if !u.config.AllowInsecure {
		return nil, false, fmt.Errorf("%w: secure connection failed: %v", ErrConnection, err)
	}

	req.Secure = false
	conn, err = u.config.Dial(ctx, req)
	if err != nil {
		u.config.Logger.Printf("Failed to establish FTP connection with following error: %v", err)
		return nil, false, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	u.config.Logger.Printf("Connected to %s without TLS", req.Addr)
	return conn, false, nil
}

// fallbackAddr returns the address to try when host:port does not resolve:
// the host string as typed if it already carries a port, otherwise the host
// on the default port.
func fallbackAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, DefaultPort)
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// Upload sends path to the remote working directory under its basename.
// Transport failures are retried until Retries attempts have been made, after
// which ErrRetryLimit is returned. A file that cannot be read locally returns
// ErrLocalRead without retrying.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	payload, err := Payload(path, u.config.Replacements)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrLocalRead, path, err)
	}
	u.config.Logger.Printf("Read %s, size %.1f kb", filepath.Base(path), float64(len(payload))/1000)

	return u.uploadFile(ctx, filepath.Base(path), payload, 0)
}

func (u *Uploader) uploadFile(ctx context.Context, name string, payload []byte, retry int) error {
	if retry >= Retries {
		return fmt.Errorf("%w: %s", ErrRetryLimit, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.store(ctx, name, payload); err != nil {
		u.config.Logger.Printf("Failed to upload %s to remote (attempt %d of %d): %v", name, retry+1, Retries, err)
		return u.uploadFile(ctx, name, payload, retry+1)
	}
	u.config.Logger.Printf("Uploaded %s to remote.", name)
	return nil
}

// store performs one attempt, re-dialing first if the previous attempt lost
// the connection.
func (u *Uploader) store(ctx context.Context, name string, payload []byte) error {
	if u.conn == nil {
		if err := u.Connect(ctx); err != nil {
			return err
		}
	}

	u.setState(StateUploading)
	err := u.conn.Stor(name, bytes.NewReader(payload))
	if err != nil && IsConnectionLost(err) {
		u.drop()
		return err
	}
	u.setState(StateConnected)
	return err
}

// Keepalive stores the one-byte placeholder file.
func (u *Uploader) Keepalive(ctx context.Context) error {
	if u.conn == nil {
		return fmt.Errorf("%w: %v", ErrKeepalive, ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	u.setState(StateUploading)
	if err := u.conn.Stor(KeepaliveFile, strings.NewReader(".")); err != nil {
		u.config.Logger.Printf("Keepalive signal failed with following error: %v", err)
		u.drop()
		return fmt.Errorf("%w: %v", ErrKeepalive, err)
	}
	u.setState(StateConnected)
	u.config.Logger.Printf("Sent keepalive signal")
	return nil
}

// Close ends the session. Errors are logged, never returned.
func (u *Uploader) Close() {
	if u.conn == nil {
		u.setState(StateDisconnected)
		return
	}
	if err := u.conn.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		u.config.Logger.Printf("Failed to terminate connection to remote with following error: %v", err)
	}
	u.conn = nil
	u.setState(StateDisconnected)
}

func (u *Uploader) drop() {
	if u.conn != nil {
		_ = u.conn.Quit()
	}
	u.conn = nil
	u.setState(StateDisconnected)
}
