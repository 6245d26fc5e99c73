package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aconcagua-systems/pna-core/pkg/faults"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists ledger entries in a SQLite database. Entries are
// indexed by subject id while sequence order is preserved for chain hashing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("ledger sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		sequence     INTEGER PRIMARY KEY,
		timestamp    TEXT NOT NULL,
		actor_id     TEXT NOT NULL,
		actor_role   TEXT NOT NULL,
		kind         TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id   TEXT NOT NULL,
		prior_state  TEXT,
		new_state    TEXT,
		metadata     JSON,
		prev_hash    TEXT NOT NULL,
		entry_hash   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_subject ON ledger_entries (subject_id, sequence);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `INSERT INTO ledger_entries (
		sequence, timestamp, actor_id, actor_role, kind, subject_type, subject_id,
		prior_state, new_state, metadata, prev_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		e.Sequence,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ActorID, e.ActorRole, string(e.Kind), e.SubjectType, e.SubjectID,
		nullableRaw(e.PriorState), nullableRaw(e.NewState), string(metaJSON),
		e.PrevHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("%w: insert entry: %v", faults.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Head(ctx context.Context) (uint64, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, entry_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var hash string
	if err := row.Scan(&seq, &hash); err != nil {
		if err == sql.ErrNoRows {
			return 0, GenesisHash, nil
		}
		return 0, "", fmt.Errorf("%w: read head: %v", faults.ErrStorageUnavailable, err)
	}
	return seq, hash, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]*Entry, error) {
	return s.query(ctx,
		`SELECT sequence, timestamp, actor_id, actor_role, kind, subject_type, subject_id,
		        prior_state, new_state, metadata, prev_hash, entry_hash
		 FROM ledger_entries ORDER BY sequence`)
}

func (s *SQLiteStore) BySubject(ctx context.Context, subjectID string) ([]*Entry, error) {
	return s.query(ctx,
		`SELECT sequence, timestamp, actor_id, actor_role, kind, subject_type, subject_id,
		        prior_state, new_state, metadata, prev_hash, entry_hash
		 FROM ledger_entries WHERE subject_id = ? ORDER BY sequence`, subjectID)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query entries: %v", faults.ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate entries: %v", faults.ErrStorageUnavailable, err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e         Entry
		timestamp string
		kind      string
		prior     sql.NullString
		next      sql.NullString
		metaJSON  sql.NullString
	)
	if err := rows.Scan(&e.Sequence, &timestamp, &e.ActorID, &e.ActorRole, &kind,
		&e.SubjectType, &e.SubjectID, &prior, &next, &metaJSON, &e.PrevHash, &e.EntryHash); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse entry timestamp %q: %w", timestamp, err)
	}
	e.Timestamp = ts
	e.Kind = EventKind(kind)
	if prior.Valid && prior.String != "" {
		e.PriorState = json.RawMessage(prior.String)
	}
	if next.Valid && next.String != "" {
		e.NewState = json.RawMessage(next.String)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("parse entry metadata: %w", err)
		}
	}
	return &e, nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
