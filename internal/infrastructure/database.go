package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/price-stream-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultMinBackoff     = 100 * time.Millisecond
	defaultMaxBackoff     = 1 * time.Second
	defaultJitterPercent  = 20
	defaultMaxIdleConns   = 10
	defaultMaxOpenConns   = 50
	defaultConnLifetime   = 1 * time.Hour
)

// NewPostgresConnection connects with capped exponential backoff. MaxRetry
// counts retries after the first attempt.
func NewPostgresConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	connectTimeout := cfg.PingInterval
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	maxRetry := max(cfg.MaxRetry, 0)

	minBackoff := cfg.MinJitter
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	maxBackoff := cfg.MaxJitter
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	maxBackoff = max(maxBackoff, minBackoff)

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}

	maxOpenConns := cfg.MaxActiveConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	maxConnLifetime := cfg.MaxConnLifetime
	if maxConnLifetime <= 0 {
		maxConnLifetime = defaultConnLifetime
	}

	backoff := retry.NewExponential(minBackoff)
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	backoff = retry.WithJitterPercent(defaultJitterPercent, backoff)
	backoff = retry.WithMaxRetries(uint64(maxRetry), backoff)

	var (
		db      *sqlx.DB
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		conn, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_retry":    maxRetry,
				"postgres_dsn": maskDSN(cfg.DSN),
			}).Warnf("postgres connection failed: %v", err)
			return retry.RetryableError(err)
		}

		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres after %d attempts: %w", attempt, err)
	}

	db.SetMaxIdleConns(maxIdleConns)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(maxConnLifetime)
	if cfg.PingInterval > 0 {
		db.SetConnMaxIdleTime(cfg.PingInterval)
	}

	logrus.WithFields(logrus.Fields{
		"attempts":          attempt,
		"max_idle_conns":    maxIdleConns,
		"max_active_conns":  maxOpenConns,
		"max_conn_lifetime": maxConnLifetime,
	}).Info("postgres connection established")

	return db, nil
}

func StartPostgresHealthCheck(ctx context.Context, db *sqlx.DB, interval time.Duration) {
	if db == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, interval)
				err := db.PingContext(pingCtx)
				cancel()
				if err != nil {
					logrus.Errorf("postgres health check failed: %v", err)
				}
			}
		}
	}()
}

func maskDSN(dsn string) string {
	idx := strings.Index(dsn, "@")
	if idx == -1 {
		return dsn
	}

	prefix := dsn[:idx]
	credsIdx := strings.LastIndex(prefix, "://")
	if credsIdx == -1 {
		return "***" + dsn[idx:]
	}

	return prefix[:credsIdx+3] + "***" + dsn[idx:]
}
