package ftp

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// fakeConn records every command it receives.
type fakeConn struct {
	mu       sync.Mutex
	dirs     []string
	stored   map[string][]byte
	storeErr error
	cwdErr   error
	stors    int
	quits    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{stored: make(map[string][]byte)}
}

func (c *fakeConn) ChangeDir(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs = append(c.dirs, path)
	return c.cwdErr
}

func (c *fakeConn) Stor(path string, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stors++
	if c.storeErr != nil {
		return c.storeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.stored[path] = data
	return nil
}

func (c *fakeConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quits++
	return nil
}

// fakeDialer hands out conn and records requests. secureErr/plainErr fail the
// matching dial mode.
type fakeDialer struct {
	conn      *fakeConn
	requests  []DialRequest
	secureErr error
	plainErr  error
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	d.requests = append(d.requests, req)
	if req.Secure && d.secureErr != nil {
		return nil, d.secureErr
	}
	if !req.Secure && d.plainErr != nil {
		return nil, d.plainErr
	}
	return d.conn, nil
}

func newTestUploader(d *fakeDialer, reps []Replacement) *Uploader {
	return New(&Config{
		Host:         "ftp.example.com",
		Port:         21,
		Username:     "user",
		Password:     "secret",
		RemoteDir:    "/public_html/results",
		Replacements: reps,
		Dial:         d.Dial,
		Logger:       log.New(io.Discard, "", 0),
	})
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// TestConnect_Secure verifies a TLS connection enters the remote directory.
func TestConnect_Secure(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn()}
	u := newTestUploader(d, nil)

	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if u.State() != StateConnected || !u.Secure() {
		t.Errorf("State() = %v, Secure() = %v", u.State(), u.Secure())
	}
	if len(d.requests) != 1 || d.requests[0].Addr != "ftp.example.com:21" || !d.requests[0].Secure {
		t.Errorf("requests = %+v", d.requests)
	}
	if len(d.conn.dirs) != 1 || d.conn.dirs[0] != "/public_html/results" {
		t.Errorf("ChangeDir calls = %v", d.conn.dirs)
	}
}

// TestConnect_InsecureFallback verifies plaintext is tried only when allowed.
func TestConnect_InsecureFallback(t *testing.T) {
	tlsErr := errors.New("534 policy requires SSL")

	tests := []struct {
		name          string
		allowInsecure bool
		wantErr       bool
		wantDials     int
	}{
		{"fallback permitted", true, false, 2},
		{"fallback refused", false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{conn: newFakeConn(), secureErr: tlsErr}
			u := newTestUploader(d, nil)
			u.config.AllowInsecure = tt.allowInsecure

			err := u.Connect(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Connect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrConnection) {
				t.Errorf("error = %v, want ErrConnection", err)
			}
			if len(d.requests) != tt.wantDials {
				t.Errorf("dials = %d, want %d", len(d.requests), tt.wantDials)
			}
			if !tt.wantErr && u.Secure() {
				t.Error("fallback connection should not report Secure()")
			}
		})
	}
}

// TestConnect_NameResolutionRetry verifies a host that already carries a port
// is retried as typed.
func TestConnect_NameResolutionRetry(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn()}
	dnsErr := &net.DNSError{Err: "no such host", Name: "ftp.example.com:2121"}

	u := New(&Config{
		Host:      "ftp.example.com:2121",
		Port:      21,
		RemoteDir: "/",
		Logger:    log.New(io.Discard, "", 0),
		Dial: func(ctx context.Context, req DialRequest) (Conn, error) {
			d.requests = append(d.requests, req)
			if len(d.requests) == 1 {
				return nil, dnsErr
			}
			return d.conn, nil
		},
	})

	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if len(d.requests) != 2 {
		t.Fatalf("dials = %d, want 2", len(d.requests))
	}
	if got := d.requests[1]; got.Addr != "ftp.example.com:2121" || got.ServerName != "ftp.example.com" || !got.Secure {
		t.Errorf("retry request = %+v", got)
	}
}

// TestConnect_WorkingDirectoryFatal verifies a bad remote directory fails the session.
func TestConnect_WorkingDirectoryFatal(t *testing.T) {
	conn := newFakeConn()
	conn.cwdErr = &textproto.Error{Code: 550, Msg: "No such directory"}
	u := newTestUploader(&fakeDialer{conn: conn}, nil)

	err := u.Connect(context.Background())
	if !errors.Is(err, ErrWorkingDirectory) {
		t.Fatalf("Connect() error = %v, want ErrWorkingDirectory", err)
	}
	if u.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", u.State())
	}
	if conn.quits != 1 {
		t.Errorf("Quit calls = %d, want 1", conn.quits)
	}
}

// TestUpload_RetryBound verifies exactly Retries attempts before giving up.
func TestUpload_RetryBound(t *testing.T) {
	conn := newFakeConn()
	conn.storeErr = &textproto.Error{Code: 451, Msg: "Requested action aborted"}
	d := &fakeDialer{conn: conn}
	u := newTestUploader(d, nil)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	err := u.Upload(context.Background(), writeTemp(t, "a.htm", "x"))
	if !errors.Is(err, ErrRetryLimit) {
		t.Fatalf("Upload() error = %v, want ErrRetryLimit", err)
	}
	if conn.stors != Retries {
		t.Errorf("Stor attempts = %d, want %d", conn.stors, Retries)
	}
}

// TestUpload_ReconnectsAfterLostConnection verifies a dropped connection is
// re-dialed within the same retry bound.
func TestUpload_ReconnectsAfterLostConnection(t *testing.T) {
	conn := newFakeConn()
	conn.storeErr = io.EOF
	d := &fakeDialer{conn: conn}
	u := newTestUploader(d, nil)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	err := u.Upload(context.Background(), writeTemp(t, "a.htm", "x"))
	if !errors.Is(err, ErrRetryLimit) {
		t.Fatalf("Upload() error = %v, want ErrRetryLimit", err)
	}
	if conn.stors != Retries {
		t.Errorf("Stor attempts = %d, want %d", conn.stors, Retries)
	}
	// initial connect plus one re-dial before each retry
	if len(d.requests) != Retries {
		t.Errorf("dials = %d, want %d", len(d.requests), Retries)
	}
}

// TestUpload_SubstitutionNonDestructive verifies replacements reach the wire only.
func TestUpload_SubstitutionNonDestructive(t *testing.T) {
	conn := newFakeConn()
	u := newTestUploader(&fakeDialer{conn: conn}, []Replacement{{Old: "ISU", New: "GBR"}})
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	path := writeTemp(t, "SEG001.htm", "<td>ISU</td>")
	if err := u.Upload(context.Background(), path); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	if got := string(conn.stored["SEG001.htm"]); got != "<td>GBR</td>" {
		t.Errorf("uploaded payload = %q", got)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != "<td>ISU</td>" {
		t.Errorf("file on disk changed to %q", onDisk)
	}
}

// TestUpload_BinaryUnchanged verifies non-editable files pass through.
func TestUpload_BinaryUnchanged(t *testing.T) {
	conn := newFakeConn()
	u := newTestUploader(&fakeDialer{conn: conn}, []Replacement{{Old: "ISU", New: "GBR"}})
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	if err := u.Upload(context.Background(), writeTemp(t, "a.pdf", "ISU")); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if got := string(conn.stored["a.pdf"]); got != "ISU" {
		t.Errorf("uploaded payload = %q, want ISU", got)
	}
}

// TestUpload_MissingFile verifies local read failures are not retried.
func TestUpload_MissingFile(t *testing.T) {
	conn := newFakeConn()
	u := newTestUploader(&fakeDialer{conn: conn}, nil)
	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.htm"))
	if !errors.Is(err, ErrLocalRead) {
		t.Errorf("Upload() error = %v, want ErrLocalRead", err)
	}
	if conn.stors != 0 {
		t.Errorf("Stor attempts = %d, want 0", conn.stors)
	}
}

// TestKeepalive verifies the one-byte placeholder is stored.
func TestKeepalive(t *testing.T) {
	conn := newFakeConn()
	u := newTestUploader(&fakeDialer{conn: conn}, nil)

	if err := u.Keepalive(context.Background()); !errors.Is(err, ErrKeepalive) {
		t.Errorf("Keepalive() before connect error = %v, want ErrKeepalive", err)
	}

	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if err := u.Keepalive(context.Background()); err != nil {
		t.Fatalf("Keepalive() failed: %v", err)
	}
	if got := string(conn.stored[KeepaliveFile]); got != "." {
		t.Errorf("keepalive payload = %q", got)
	}

	conn.storeErr = errors.New("connection reset")
	if err := u.Keepalive(context.Background()); !errors.Is(err, ErrKeepalive) {
		t.Errorf("Keepalive() error = %v, want ErrKeepalive", err)
	}
}

// TestClose verifies Close is best-effort and idempotent.
func TestClose(t *testing.T) {
	conn := newFakeConn()
	u := newTestUploader(&fakeDialer{conn: conn}, nil)
	u.Close()

	if err := u.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	u.Close()
	u.Close()

	if conn.quits != 1 {
		t.Errorf("Quit calls = %d, want 1", conn.quits)
	}
	if u.State() != StateDisconnected {
		t.Errorf("State() = %v", u.State())
	}
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"421", &textproto.Error{Code: 421, Msg: "Timeout"}, true},
		{"550", &textproto.Error{Code: 550, Msg: "Denied"}, false},
		{"net", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionLost(tt.err); got != tt.want {
				t.Errorf("IsConnectionLost() = %v, want %v", got, tt.want)
			}
		})
	}
}
