/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pgconn holds the pgxpool connection setup shared by every
// service's Postgres-backed store. Each service points it at its own
// schema's connection string; schemas never share a pool and never
// reference each other via foreign key, per the isolation requirement
// that lets each schema migrate independently.
package pgconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures a single schema's connection pool.
type Config struct {
	// ConnString is the PostgreSQL connection URI.
	ConnString string
	// MaxConns is the maximum number of connections in the pool. Default: 10.
	MaxConns int32
	// MinConns is the minimum number of idle connections maintained. Default: 2.
	MinConns int32
	// MaxConnLifetime is the maximum lifetime of a connection. Default: 1h.
	MaxConnLifetime time.Duration
	// MaxConnIdleTime is the maximum time a connection can be idle. Default: 30m.
	MaxConnIdleTime time.Duration
	// HealthCheckPeriod is the interval between health checks on idle connections. Default: 1m.
	HealthCheckPeriod time.Duration
	// TLS enables TLS when non-nil.
	TLS *tls.Config
}

// DefaultConfig returns a Config with sensible pool defaults. Callers must
// still set ConnString.
func DefaultConfig() Config {
	return Config{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Pool is a pgxpool.Pool opened from a Config, with ownership tracked so
// Close is a no-op for pools the caller didn't create (e.g. shared in
// tests).
type Pool struct {
	*pgxpool.Pool
	ownsPool bool
}

// Open creates a Pool from cfg and verifies connectivity with a PING.
func Open(cfg Config) (*Pool, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("pgconn: connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgconn: parsing connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.TLS != nil {
		poolCfg.ConnConfig.TLSConfig = cfg.TLS
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgconn: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgconn: ping failed: %w", err)
	}

	return &Pool{Pool: pool, ownsPool: true}, nil
}

// FromExisting wraps an already-open pool. Close is a no-op; the caller
// retains ownership. Used by tests that share one pool across schemas.
func FromExisting(pool *pgxpool.Pool) *Pool {
	return &Pool{Pool: pool, ownsPool: false}
}

// Close shuts down the pool if this Pool created it.
func (p *Pool) Close() {
	if p.ownsPool {
		p.Pool.Close()
	}
}

// --- nullable helpers, reused by every store's row scanning -----------------

// NullTime returns nil for the zero time, otherwise a pointer to t.
func NullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// TimeOrZero returns the zero time for a nil pointer, otherwise *t.
func TimeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// NullString returns nil for the empty string, otherwise a pointer to s.
func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringOrEmpty returns "" for a nil pointer, otherwise *s.
func StringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
