package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fsmweb/uploader/internal/ftp"
)

// LoadEdits reads an edits file: a flat mapping from search string to
// replacement string. Pairs are returned in file order, which is the order
// they are applied in. The format follows the extension; anything other than
// YAML or TOML is read as JSON.
func LoadEdits(path string) ([]ftp.Replacement, error) {
	// #nosec G304 - path is operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edits file: %w", err)
	}

	var reps []ftp.Replacement
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		reps, err = yamlEdits(data)
	case ".toml":
		reps, err = tomlEdits(data)
	default:
		reps, err = jsonEdits(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse edits file %s: %w", path, err)
	}
	return reps, nil
}

func jsonEdits(data []byte) ([]ftp.Replacement, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object of string pairs")
	}

	var reps []ftp.Replacement
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		reps = append(reps, ftp.Replacement{Old: key, New: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return reps, nil
}

func yamlEdits(data []byte) ([]ftp.Replacement, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping of string pairs")
	}

	reps := make([]ftp.Replacement, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("value for %q is not a string", k.Value)
		}
		reps = append(reps, ftp.Replacement{Old: k.Value, New: v.Value})
	}
	return reps, nil
}

func tomlEdits(data []byte) ([]ftp.Replacement, error) {
	var m map[string]string
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}

	reps := make([]ftp.Replacement, 0, len(m))
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		reps = append(reps, ftp.Replacement{Old: key[0], New: m[key[0]]})
	}
	return reps, nil
}
