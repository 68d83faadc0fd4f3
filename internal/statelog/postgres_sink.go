package statelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresLogTableName     = "docgate_state_log"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresSink appends entries to a log table, creating it on first use.
type PostgresSink struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &PostgresSink{
		dsn:       dsn,
		tableName: postgresLogTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresSink) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		schema := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, ts TEXT NOT NULL, event TEXT NOT NULL, data JSONB)",
			postgresQuoteIdentifier(s.tableName),
		)
		if _, err := db.ExecContext(ctx, schema); err != nil {
			s.initErr = err
			_ = db.Close()
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresSink) Append(entry Entry) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"INSERT INTO %s (ts, event, data) VALUES ($1, $2, $3)",
		postgresQuoteIdentifier(s.tableName),
	)
	_, err = s.db.ExecContext(ctx, query, entry.TS, entry.Event, data)
	return err
}

func (s *PostgresSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
