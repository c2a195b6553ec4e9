package ftp

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/jlaffaye/ftp"
)

// Conn is the subset of an FTP control connection the uploader needs.
// *ftp.ServerConn satisfies it.
type Conn interface {
	ChangeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// DialRequest describes one connection attempt.
type DialRequest struct {
	// Addr is the host:port to dial.
	Addr string
	// ServerName is verified against the server certificate when Secure is set.
	ServerName string
	// Secure requests explicit TLS (AUTH TLS) with a protected data channel.
	Secure bool

	Username string
	Password string
	Timeout  time.Duration
}

// DialFunc opens and logs in a connection.
type DialFunc func(ctx context.Context, req DialRequest) (Conn, error)

// DialServer is the DialFunc backed by github.com/jlaffaye/ftp. In secure
// mode the library issues AUTH TLS on connect and PBSZ 0 / PROT P after
// login, so both control and data channels are encrypted.
func DialServer(ctx context.Context, req DialRequest) (Conn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if req.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(req.Timeout))
	}
	if req.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: req.ServerName,
			MinVersion: tls.VersionTLS12,
		}))
	}

	c, err := ftp.Dial(req.Addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(req.Username, req.Password); err != nil {
		_ = c.Quit()
		return nil, err
	}
	return c, nil
}
