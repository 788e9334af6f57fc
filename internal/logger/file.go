package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures rotating file output.
type FileConfig struct {
	Path string
	// MaxSizeMB is the size that triggers rotation. Zero means 100.
	MaxSizeMB int
	// MaxFiles is how many rotated files are kept. Zero keeps them all.
	MaxFiles int
}

const defaultLogPath = "mailqueue.log"

// NewFileWriter returns a lumberjack writer. Rotated files are gzipped.
func NewFileWriter(cfg FileConfig) io.Writer {
	path := cfg.Path
	if path == "" {
		path = defaultLogPath
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}
