package pack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Loader loads pack documents from the filesystem. Packs are YAML or
// JSON files; the format is chosen by extension.
type Loader struct {
	validator *Validator
	logger    *slog.Logger
}

// NewLoader creates a loader backed by the given validator. logger may
// be nil; slog.Default is used.
func NewLoader(validator *Validator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{validator: validator, logger: logger}
}

// LoadFile validates and returns a single pack document.
func (l *Loader) LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	format := FormatYAML
	if ext := filepath.Ext(path); ext == ".json" {
		format = FormatJSON
	}

	p, err := l.validator.Validate(data, format)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}

	l.logger.Debug("pack loaded",
		"pack", p.ID, "version", p.Version, "hash", p.Hash, "rules", len(p.Rules))
	return p, nil
}

// LoadDir loads every .yaml/.yml/.json pack in a directory. Any invalid
// pack fails the whole load; partially loaded sets are never returned.
func (l *Loader) LoadDir(dir string) ([]*Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var packs []*Pack
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		p, err := l.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, nil
}
