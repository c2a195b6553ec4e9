// Package copier copies scoring artifacts (judges' detail PDFs) from the
// scoring software's output tree into the website directory.
package copier

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// ErrCopy is returned when a file could not be copied. It is file-local: the
// session logs it and waits for a fresh filesystem event before trying again.
var ErrCopy = errors.New("artifact copy failed")

// Copier copies files into a fixed destination directory.
type Copier struct {
	destDir string
	logger  *log.Logger
}

// New creates a Copier writing into destDir.
func New(destDir string, logger *log.Logger) *Copier {
	if logger == nil {
		logger = log.New(os.Stderr, "[copier] ", log.LstdFlags)
	}
	return &Copier{destDir: destDir, logger: logger}
}

// DestDir returns the destination directory.
func (c *Copier) DestDir() string { return c.destDir }

// Destination returns the path src is copied to.
func (c *Copier) Destination(src string) string {
	return filepath.Join(c.destDir, filepath.Base(src))
}

// Copy copies src to the destination directory under its basename,
// overwriting any existing file of that name. It does not retry.
func (c *Copier) Copy(src string) error {
	dst := c.Destination(src)
	if err := copyFile(src, dst); err != nil {
		if errors.Is(err, os.ErrPermission) {
			c.logger.Printf("Error copying file: %v", err)
		}
		return fmt.Errorf("%w: %s: %v", ErrCopy, src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - path comes from the watched artifact tree
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
