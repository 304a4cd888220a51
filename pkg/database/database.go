// Package database opens traced Postgres connections for the lead stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nhatthm/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Config locates a lead database and sizes its pool. Zero pool sizes keep the
// database/sql defaults.
type Config struct {
	User         string
	Password     string
	Host         string
	Name         string
	MaxIdleConns int
	MaxOpenConns int
	DisableTLS   bool
}

// URL renders the lib/pq connection string for cfg. Sessions run in UTC.
func (cfg Config) URL() string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open returns a pool whose queries are traced as spans of the caller's
// context and whose pool stats are exported through otel.
func Open(cfg Config) (*sqlx.DB, error) {
	driver, err := otelsql.Register("postgres",
		otelsql.AllowRoot(),
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithDatabaseName(cfg.Name),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering traced driver: %w", err)
	}

	sqlDB, err := sql.Open(driver, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Name, err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := otelsql.RecordStats(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("recording pool stats: %w", err)
	}

	return sqlx.NewDb(sqlDB, "postgres"), nil
}

// StatusCheck waits until the database answers a query or ctx is done. Pings
// back off linearly so a database that is still starting gets time to come up.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	for wait := 100 * time.Millisecond; ; wait += 100 * time.Millisecond {
		err := db.PingContext(ctx)
		if err == nil {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("database unreachable: %w", err)
		case <-time.After(wait):
		}
	}

	var ok bool
	return db.QueryRowContext(ctx, `SELECT true`).Scan(&ok)
}
