package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/blockadesystems/certregistry/internal/model"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "storage"))

	sql.Register(driverSQLite, &sqlite3.SQLiteDriver{ConnectHook: sqliteConnectHook})
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// sqliteConnectHook runs on every new SQLite connection. Foreign keys are
// off by default in SQLite and are a per-connection setting.
func sqliteConnectHook(conn *sqlite3.SQLiteConn) error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := conn.Exec(pragma, []driver.Value{}); err != nil {
			return fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	return nil
}

// SetLogger replaces the package logger. A nil logger is ignored.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l.With(zap.String("package", "storage"))
	}
}

// --- Interfaces ---

// Querier defines common methods implemented by *sqlx.DB and *sqlx.Tx.
// This allows storage methods to work with either a pool or a transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Storage defines the interface for storing and retrieving registry data.
type Storage interface {
	// User Methods
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context) ([]*model.User, error)

	// Certificate Methods
	CreateCertificate(ctx context.Context, cert *model.Certificate) error
	GetCertificate(ctx context.Context, id int64) (*model.Certificate, error)
	GetCertificateBySerial(ctx context.Context, serialNumber string) (*model.Certificate, error)
	UpdateCertificate(ctx context.Context, cert *model.Certificate) error
	MarkCertificateRevoked(ctx context.Context, id int64, revocationDate time.Time) error
	ListCertificatesByUser(ctx context.Context, userID int64) ([]*model.Certificate, error)

	// Chain Methods
	CreateChain(ctx context.Context, chain *model.CertificateChain) error
	GetChain(ctx context.Context, id int64) (*model.CertificateChain, error)
	UpdateChain(ctx context.Context, chain *model.CertificateChain) error
	ListChainsByUser(ctx context.Context, userID int64) ([]*model.CertificateChain, error)
	AddChainLink(ctx context.Context, link *model.CertificateChainLink) error
	AppendChainLink(ctx context.Context, chainID, certificateID int64) (*model.CertificateChainLink, error)
	UpdateChainLink(ctx context.Context, link *model.CertificateChainLink) error
	ListChainLinks(ctx context.Context, chainID int64) ([]*model.CertificateChainLink, error)
	ListChainLinksByCertificate(ctx context.Context, certificateID int64) ([]*model.CertificateChainLink, error)
	GetChainCertificates(ctx context.Context, chainID int64) ([]*model.Certificate, error)

	// CRL Methods
	CreateCRL(ctx context.Context, crl *model.CRL) error
	GetCRL(ctx context.Context, id int64) (*model.CRL, error)
	UpdateCRL(ctx context.Context, crl *model.CRL) error
	ListCRLs(ctx context.Context, issuer string) ([]*model.CRL, error)
	GetLatestCRL(ctx context.Context, issuer string) (*model.CRL, error)
	NextCRLNumber(ctx context.Context, issuer string) (int64, error)

	// Delta CRL Methods
	CreateDeltaCRL(ctx context.Context, delta *model.DeltaCRL) error
	GetDeltaCRL(ctx context.Context, id int64) (*model.DeltaCRL, error)
	UpdateDeltaCRL(ctx context.Context, delta *model.DeltaCRL) error
	ListDeltaCRLs(ctx context.Context, baseCRLID int64) ([]*model.DeltaCRL, error)

	// Revoked Certificate Methods
	CreateRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error
	GetRevokedCertificate(ctx context.Context, id int64) (*model.RevokedCertificate, error)
	UpdateRevokedCertificate(ctx context.Context, rc *model.RevokedCertificate) error
	ListRevokedByCRL(ctx context.Context, crlID int64) ([]*model.RevokedCertificate, error)
	ListRevokedByDeltaCRL(ctx context.Context, deltaCRLID int64) ([]*model.RevokedCertificate, error)

	// Transaction Helper
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error

	Ping(ctx context.Context) error
	Close() error // Close the underlying connection pool
}

// queries implements every entity method against a Querier. SQLStorage and
// txStore embed it with a pool and a transaction respectively.
type queries struct {
	q Querier
}

// SQLStorage holds the connection pool.
type SQLStorage struct {
	queries
	db *sqlx.DB
}

// txStore holds a transaction and implements the Storage interface.
type txStore struct {
	queries
	tx *sqlx.Tx
}

// Ensure SQLStorage implements Storage (compile-time check).
var _ Storage = (*SQLStorage)(nil)

// Ensure txStore implements Storage (compile-time check).
var _ Storage = (*txStore)(nil)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3_registry" // go-sqlite3 with sqliteConnectHook
)

// NewStorage is the factory function. storageType is "postgres" or "sqlite";
// dsn is handed to the matching driver unchanged.
func NewStorage(ctx context.Context, storageType string, dsn string) (*SQLStorage, error) {
	switch strings.ToLower(storageType) {
	case "postgres", "postgresql":
		return open(ctx, driverPostgres, dsn)
	case "sqlite", "sqlite3":
		return open(ctx, driverSQLite, dsn)
	default:
		logger.Error("Invalid storage type specified", zap.String("storage_type", storageType))
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}

// open connects, verifies the connection and ensures the schema exists.
func open(ctx context.Context, driverName string, dsn string) (*SQLStorage, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		logger.Error("Failed to open database connection", zap.Error(err), zap.String("driver", driverName))
		return nil, fmt.Errorf("storage: failed to open %s database: %w", driverName, err)
	}

	switch driverName {
	case driverPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	case driverSQLite:
		// SQLite allows a single writer; one connection serializes access
		// instead of surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("Failed to ping database", zap.Error(err), zap.String("driver", driverName))
		return nil, fmt.Errorf("storage: failed to connect to %s database: %w", driverName, err)
	}
	logger.Info("Successfully connected to database", zap.String("driver", driverName))

	if driverName == driverSQLite {
		if err := checkForeignKeys(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 30*time.Second) // Longer timeout for DDL
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err // Error already logged in ensureSchema
	}

	s := &SQLStorage{queries: queries{q: db}, db: db}
	logger.Info("SQLStorage initialized", zap.String("driver", driverName))
	return s, nil
}

// checkForeignKeys fails unless the SQLite connection enforces foreign keys.
func checkForeignKeys(ctx context.Context, db *sqlx.DB) error {
	var enabled int
	if err := db.GetContext(ctx, &enabled, "PRAGMA foreign_keys"); err != nil {
		return fmt.Errorf("storage: failed to read foreign_keys pragma: %w", err)
	}
	if enabled != 1 {
		logger.Error("SQLite foreign key enforcement is off", zap.Int("foreign_keys", enabled))
		return fmt.Errorf("storage: sqlite foreign key enforcement is off")
	}
	return nil
}

// DriverName returns the name of the underlying database/sql driver.
func (s *SQLStorage) DriverName() string {
	return s.db.DriverName()
}

// Close shuts down the database connection pool.
func (s *SQLStorage) Close() error {
	logger.Info("Closing database connection pool")
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping failed: %w", err)
	}
	return nil
}

// WithinTransaction executes the given function within a database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *SQLStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	txs := &txStore{queries: queries{q: tx}, tx: tx}
	err = fn(ctx, txs)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Transaction function failed and rollback failed", zap.Error(err), zap.NamedError("rollback_error", rbErr))
			return fmt.Errorf("storage: transaction function failed (%w) and rollback failed (%v)", err, rbErr)
		}
		logger.Warn("Transaction rolled back due to error", zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("storage: failed to commit transaction: %w", err)
	}
	return nil
}

// AppendChainLink adds certificateID at the end of the chain in its own
// transaction, so the new order is always max+1.
func (s *SQLStorage) AppendChainLink(ctx context.Context, chainID, certificateID int64) (*model.CertificateChainLink, error) {
	var link *model.CertificateChainLink
	err := s.WithinTransaction(ctx, func(ctx context.Context, txStorage Storage) error {
		var err error
		link, err = txStorage.AppendChainLink(ctx, chainID, certificateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Close is a no-op; the owning SQLStorage manages the pool.
func (s *txStore) Close() error { return nil }

// Ping verifies the transaction's connection is usable.
func (s *txStore) Ping(ctx context.Context) error {
	var one int
	if err := s.tx.QueryRowxContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("storage: ping failed: %w", err)
	}
	return nil
}

// WithinTransaction fails: transactions do not nest.
func (s *txStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return ErrNestedTransaction
}

// AppendChainLink runs directly in the surrounding transaction.
func (s *txStore) AppendChainLink(ctx context.Context, chainID, certificateID int64) (*model.CertificateChainLink, error) {
	return s.appendChainLink(ctx, chainID, certificateID)
}

// utc converts t to UTC before it is bound. go-sqlite3 stores times as text
// in the value's own offset, so mixed zones would not sort by instant.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
