package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSQLitePath = "./data/mediameter.db"

// ErrPoolTimeout indicates no connection could be acquired before the deadline.
var ErrPoolTimeout = errors.New("db: connection pool acquire timeout")

// PoolOptions bounds the shared connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// Open connects to PostgreSQL or SQLite depending on the DSN shape.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var (
		conn    *gorm.DB
		errOpen error
	)
	if IsSQLiteDSN(dsn) {
		conn, errOpen = gorm.Open(sqlite.Open(BuildSQLiteDSN(strings.TrimPrefix(dsn, "sqlite://"))), gormCfg)
	} else {
		conn, errOpen = gorm.Open(postgres.Open(dsn), gormCfg)
	}
	if errOpen != nil {
		return nil, fmt.Errorf("db: open: %w", errOpen)
	}
	return conn, nil
}

// IsSQLiteDSN reports whether dsn points at a SQLite database.
func IsSQLiteDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return false
	case strings.HasPrefix(lower, "file:"), strings.HasPrefix(lower, "sqlite://"):
		return true
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), lower == ":memory:":
		return true
	default:
		return false
	}
}

// BuildSQLiteDSN constructs a SQLite DSN with default parameters.
func BuildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_foreign_keys=on",
		"_synchronous=NORMAL",
	}, "&")
}

// Pool is the process-wide storage handle. Every unit of work borrows a
// connection under the acquire timeout and returns it on all exit paths.
type Pool struct {
	conn           *gorm.DB
	acquireTimeout time.Duration
}

// NewPool configures the connection pool bounds on conn.
func NewPool(conn *gorm.DB, opts PoolOptions) (*Pool, error) {
	if conn == nil {
		return nil, fmt.Errorf("db: nil connection")
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: sql handle: %w", errDB)
	}
	maxOpen := opts.MaxOpenConns
	maxIdle := opts.MaxIdleConns
	if IsSQLite(conn) {
		// One writer at a time; concurrent transactions queue on the pool.
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	acquire := opts.AcquireTimeout
	if acquire <= 0 {
		acquire = 30 * time.Second
	}
	return &Pool{conn: conn, acquireTimeout: acquire}, nil
}

// Conn exposes the underlying handle for migrations and health checks.
func (p *Pool) Conn() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.conn
}

// Transaction runs fn inside one transaction on a borrowed connection.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p == nil || p.conn == nil {
		return fmt.Errorf("db: nil pool")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctxTx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	errTx := p.conn.WithContext(ctxTx).Transaction(fn)
	return p.translate(ctxTx, errTx)
}

// View runs fn with a borrowed connection outside of a transaction.
func (p *Pool) View(ctx context.Context, fn func(conn *gorm.DB) error) error {
	if p == nil || p.conn == nil {
		return fmt.Errorf("db: nil pool")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctxView, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	return p.translate(ctxView, fn(p.conn.WithContext(ctxView)))
}

// Ping checks database connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.conn == nil {
		return fmt.Errorf("db: nil pool")
	}
	sqlDB, errDB := p.conn.DB()
	if errDB != nil {
		return errDB
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctxPing)
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	if p == nil || p.conn == nil {
		return
	}
	sqlDB, errDB := p.conn.DB()
	if errDB != nil {
		return
	}
	if errClose := sqlDB.Close(); errClose != nil {
		log.Errorf("sql db close error: %v", errClose)
	}
}

func (p *Pool) translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPoolTimeout, err)
	}
	return err
}
