// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// PostgresStore persists action records to the actions_log table. Appends
// are buffered and written in batches; reads go straight to the database.
type PostgresStore struct {
	db        *sql.DB
	queue     chan *Record
	batchSize int
	log       *logger.Logger
	wg        sync.WaitGroup
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle's lifecycle; Close stops the background writer only.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	s := &PostgresStore{
		db:        db,
		queue:     make(chan *Record, 1000),
		batchSize: 100,
		log:       logger.New("history-store"),
		shutdown:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s
}

// EnsureSchema creates the actions_log table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS actions_log (
			action_id   TEXT PRIMARY KEY,
			action_type TEXT NOT NULL,
			parameters  JSONB,
			result      JSONB,
			error_message TEXT,
			status      TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_actions_log_type_time
		ON actions_log (action_type, created_at DESC)`)
	return err
}

// Append queues the record for the background batch writer. When the queue
// is full the record is written synchronously instead of being dropped.
func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	select {
	case s.queue <- rec:
		return nil
	default:
		return s.writeBatch(ctx, []*Record{rec})
	}
}

func (s *PostgresStore) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]*Record, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(context.Background(), batch); err != nil {
			s.log.Error("", "", "failed to write history batch", map[string]interface{}{
				"error": err.Error(),
				"count": len(batch),
			})
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.shutdown:
			// Drain whatever is still queued before exiting
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *PostgresStore) writeBatch(ctx context.Context, batch []*Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actions_log (
			action_id, action_type, parameters, result,
			error_message, status, fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (action_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range batch {
		paramsJSON, _ := json.Marshal(rec.Parameters)
		resultJSON, _ := json.Marshal(rec.Result)

		if _, err := stmt.ExecContext(ctx,
			rec.ActionID,
			string(rec.Type),
			paramsJSON,
			resultJSON,
			rec.Error,
			string(rec.Status),
			rec.Fingerprint,
			rec.Timestamp,
		); err != nil {
			s.log.Error("", "", "failed to insert action record", map[string]interface{}{
				"action_id": rec.ActionID,
				"error":     err.Error(),
			})
		}
	}

	return tx.Commit()
}

// Recent returns up to limit records, newest first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, action_type, parameters, result,
		       error_message, status, fingerprint, created_at
		FROM actions_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var rec Record
		var actionType, status string
		var paramsJSON, resultJSON []byte

		if err := rows.Scan(&rec.ActionID, &actionType, &paramsJSON, &resultJSON,
			&rec.Error, &status, &rec.Fingerprint, &rec.Timestamp); err != nil {
			return nil, err
		}

		rec.Type = actions.Type(actionType)
		rec.Status = actions.Status(status)
		_ = json.Unmarshal(paramsJSON, &rec.Parameters)
		_ = json.Unmarshal(resultJSON, &rec.Result)

		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountSince counts records of the given type at or after since
func (s *PostgresStore) CountSince(ctx context.Context, actionType actions.Type, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions_log
		WHERE action_type = $1 AND created_at >= $2`,
		string(actionType), since).Scan(&count)
	return count, err
}

// HasFingerprint reports whether a matching record exists at or after since
func (s *PostgresStore) HasFingerprint(ctx context.Context, actionType actions.Type, fingerprint string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM actions_log
			WHERE action_type = $1 AND fingerprint = $2 AND created_at >= $3
		)`,
		string(actionType), fingerprint, since).Scan(&exists)
	return exists, err
}

// Close stops the background writer after draining queued records
func (s *PostgresStore) Close() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
	})
}
