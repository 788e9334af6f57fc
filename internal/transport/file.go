package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File writes each message to <timestamp>_<id>.eml in a directory. Intended
// for development; nothing is delivered.
type File struct {
	outputDir string
}

func NewFile(cfg Config) *File {
	dir := cfg.OutputDir
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir}
}

func (f *File) Name() string { return TypeFile }

func (f *File) Send(_ context.Context, env *Envelope) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return wrap(f.Name(), fmt.Errorf("create output dir: %w", err))
	}

	ts := time.Now().UTC().Format("20060102_150405")
	safeID := strings.ReplaceAll(env.ID, "/", "_")
	path := filepath.Join(f.outputDir, fmt.Sprintf("%s_%s.eml", ts, safeID))

	m := buildMessage(env)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return wrap(f.Name(), fmt.Errorf("create %s: %w", path, err))
	}
	if _, err := m.WriteTo(out); err != nil {
		out.Close()
		return wrap(f.Name(), fmt.Errorf("write %s: %w", path, err))
	}
	if err := out.Close(); err != nil {
		return wrap(f.Name(), fmt.Errorf("close %s: %w", path, err))
	}
	return nil
}
