package ftp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EditableExtensions lists the extensions whose content is rewritten with the
// configured replacements before upload.
var EditableExtensions = []string{".htm", ".html", ".txt"}

// MaxPayloadSize bounds how much of a single file is read into memory.
const MaxPayloadSize = 500 << 20

// Replacement is one literal search/replace pair.
type Replacement struct {
	Old string
	New string
}

// IsEditable reports whether path has an editable text extension.
func IsEditable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range EditableExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ApplyReplacements applies each replacement in order to text. Later pairs see
// the output of earlier ones.
func ApplyReplacements(text string, reps []Replacement) string {
	for _, r := range reps {
		if r.Old == "" {
			continue
		}
		text = strings.ReplaceAll(text, r.Old, r.New)
	}
	return text
}

// Payload reads path fully and returns the bytes to transmit. Editable files
// are treated as UTF-8 text and rewritten; the file on disk is never touched.
func Payload(path string, reps []Replacement) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxPayloadSize {
		return nil, fmt.Errorf("%s is %d bytes, larger than the %d byte limit", filepath.Base(path), info.Size(), MaxPayloadSize)
	}

	// #nosec G304 - path comes from the watched website directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsEditable(path) || len(reps) == 0 {
		return data, nil
	}
	return []byte(ApplyReplacements(string(data), reps)), nil
}
