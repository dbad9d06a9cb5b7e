package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/gmarchetti/balcao/agent/contract"
)

const defaultReplayLimit = 30

// DBConfig configures the Postgres-backed store.
type DBConfig struct {
	URL          string        `envconfig:"URL" split_words:"true" required:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"4"`
}

// PostgresStore persists ledger entries in Postgres via bun.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(cfg DBConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(cfg.Timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return &PostgresStore{db: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// Migrate creates the chat_history table and its replay index.
// LoadRecent depends on the (telefone, created_at DESC) index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*Entry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create chat_history: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*Entry)(nil)).
		Index("ix_chat_history_telefone_created_at").
		IfNotExists().
		Column("telefone").
		ColumnExpr("created_at DESC").
		Exec(ctx); err != nil {
		return fmt.Errorf("create replay index: %w", err)
	}

	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return errors.New("nil ledger entry")
	}
	if strings.TrimSpace(e.CustomerID) == "" {
		return errors.New("ledger entry customer id is empty")
	}
	if e.MediaType == "" {
		e.MediaType = "text"
	}
	_, err := s.db.NewInsert().Model(e).Exec(ctx)
	return err
}

func (s *PostgresStore) LoadRecent(ctx context.Context, customerID string, limit int) ([]contract.Message, error) {
	if limit <= 0 {
		limit = defaultReplayLimit
	}

	var entries []Entry
	err := s.db.NewSelect().
		Model(&entries).
		Where("telefone = ?", customerID).
		OrderExpr("created_at DESC").
		OrderExpr("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	// Stored newest-first; replay wants chronological.
	messages := make([]contract.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		messages = append(messages, toMessage(entries[i]))
	}

	return Sanitize(messages), nil
}

func (s *PostgresStore) LastUserMessageAt(ctx context.Context, customerID string) (time.Time, error) {
	var e Entry
	err := s.db.NewSelect().
		Model(&e).
		Column("created_at").
		Where("telefone = ?", customerID).
		Where("role = ?", "user").
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoEntries
	}
	if err != nil {
		return time.Time{}, err
	}
	return e.CreatedAt, nil
}
