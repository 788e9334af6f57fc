// Package app wires configured backends together for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/archive"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/mailer"
	"github.com/sungwon/mailqueue/internal/maillog"
	"github.com/sungwon/mailqueue/internal/metrics"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/storage"
	"github.com/sungwon/mailqueue/internal/suppression"
	"github.com/sungwon/mailqueue/internal/transport"
)

// Backends bundles the stores selected by configuration.
type Backends struct {
	Queue        queue.Store
	Log          maillog.Log
	Suppressions suppression.List
	// Checks are readiness probes for every external dependency opened.
	Checks map[string]metrics.Check

	closers []func()
}

// Close releases every connection opened by OpenBackends.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// OpenBackends connects the queue, delivery log and suppression list named
// in cfg. The caller must Close the result.
func OpenBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Backends, error) {
	b := &Backends{Checks: make(map[string]metrics.Check)}

	var db *storage.DB
	if cfg.Queue.Store == "postgres" || cfg.Suppression.Backend == "postgres" {
		if cfg.Database.URL == "" {
			return nil, errors.New("database.url is required for postgres backends")
		}
		var err error
		db, err = storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.Checks["database"] = db.Ping
	}

	schema, err := storage.LookupSchema(cfg.Queue.Schema)
	if err != nil {
		b.Close()
		return nil, err
	}

	switch cfg.Queue.Store {
	case "postgres":
		b.Queue = storage.NewQueueStore(db, schema, cfg.Queue.BatchSize)
		b.Log = storage.NewLogStore(db, schema)
	case "memory":
		mem := maillog.NewMemory()
		b.Queue = queue.NewMemory(mem)
		b.Log = mem
		log.Warn().Msg("using in-memory queue; messages are lost on exit")
	default:
		b.Close()
		return nil, fmt.Errorf("unknown queue store %q", cfg.Queue.Store)
	}

	switch cfg.Suppression.Backend {
	case "postgres":
		b.Suppressions = storage.NewSuppressionStore(db, schema)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Suppression.RedisAddr,
			Password: cfg.Suppression.RedisPassword,
			DB:       cfg.Suppression.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		b.Suppressions = suppression.NewRedis(client, cfg.Suppression.RedisKey)
	case "memory":
		b.Suppressions = suppression.NewMemory()
	default:
		b.Close()
		return nil, fmt.Errorf("unknown suppression backend %q", cfg.Suppression.Backend)
	}

	log.Info().
		Str("store", cfg.Queue.Store).
		Str("schema", schema.Name).
		Str("suppression", cfg.Suppression.Backend).
		Msg("backends ready")

	return b, nil
}

func LoggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		Format:    cfg.Logging.Format,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
}

func TransportConfig(cfg *config.Config) transport.Config {
	t := cfg.Transport
	return transport.Config{
		Type:               t.Type,
		Host:               t.Host,
		Port:               t.Port,
		Username:           t.Username,
		Password:           t.Password,
		SSL:                t.SSL,
		InsecureSkipVerify: t.InsecureSkipVerify,
		OutputDir:          t.OutputDir,
		Timeout:            t.Timeout,
	}
}

func ArchiveConfig(cfg *config.Config) archive.Config {
	a := cfg.Archive
	return archive.Config{
		Type:       a.Type,
		Path:       a.Path,
		S3Bucket:   a.S3Bucket,
		S3Prefix:   a.S3Prefix,
		S3Endpoint: a.S3Endpoint,
		S3Region:   a.S3Region,
	}
}

func MailerConfig(cfg *config.Config) mailer.Config {
	m := cfg.Mailer
	return mailer.Config{
		DefaultPriority: cfg.DefaultPriority(),
		Immediate:       m.Immediate,
		Timeout:         cfg.Transport.Timeout,
		ServerEmail:     m.ServerEmail,
		SubjectPrefix:   m.SubjectPrefix,
		Admins:          m.Admins,
		Managers:        m.Managers,
	}
}
