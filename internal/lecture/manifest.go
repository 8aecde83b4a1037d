package lecture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/lecture3d/internal/system"
)

const CurrentVersion = "1.0"

// Load reads a manifest from a .json, .yaml or .yml file and validates it.
func Load(path string) (*Lecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse decodes manifest bytes; ext selects the format (".json" or YAML).
func Parse(data []byte, ext string) (*Lecture, error) {
	var l Lecture
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("decode json manifest: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("decode yaml manifest: %w", err)
		}
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Save writes the manifest as YAML.
func Save(l *Lecture, path string) error {
	if l.Version == "" {
		l.Version = CurrentVersion
	}
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindLatest finds the most recent manifest in dir.
func FindLatest(dir string) (string, error) {
	return system.FindLatestManifest(dir)
}
