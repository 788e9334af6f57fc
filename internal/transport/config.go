package transport

import (
	"errors"
	"time"
)

const (
	TypeSMTP   = "smtp"
	TypeStdout = "stdout"
	TypeFile   = "file"
)

// Config holds the settings for every transport type; each type reads only
// the fields it needs.
type Config struct {
	// Type is one of "smtp", "stdout" or "file".
	Type string

	Host               string
	Port               int
	Username           string
	Password           string
	SSL                bool
	InsecureSkipVerify bool

	// OutputDir is where the file transport writes .eml files.
	OutputDir string

	// Timeout bounds a single Send.
	Timeout time.Duration
}

const (
	defaultTimeout   = 30 * time.Second
	defaultSMTPPort  = 25
	defaultOutputDir = "./mail_output"
)

// Validate checks that required fields are set and fills defaults.
func (c *Config) Validate() error {
	if c.Type == "" {
		return errors.New("transport type is required")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Timeout < 0 {
		return errors.New("transport timeout must be positive")
	}

	switch c.Type {
	case TypeSMTP:
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.Port == 0 {
			c.Port = defaultSMTPPort
		}
		if c.Password != "" && c.Username == "" {
			return errors.New("smtp: username is required when password is set")
		}
	case TypeStdout:
	case TypeFile:
		if c.OutputDir == "" {
			c.OutputDir = defaultOutputDir
		}
	default:
		return errors.New("unknown transport type: " + c.Type)
	}
	return nil
}
