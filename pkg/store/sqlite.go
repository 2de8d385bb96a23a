package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/events"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists custody snapshots in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS vault_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		heir TEXT NOT NULL,
		marker DATETIME NOT NULL,
		quorum INTEGER NOT NULL DEFAULT 0,
		taken_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS principals (
		position INTEGER PRIMARY KEY,
		address TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS assets (
		contract TEXT NOT NULL,
		token_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT,
		PRIMARY KEY (contract, token_id)
	);
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		target TEXT NOT NULL,
		value TEXT,
		payload BLOB,
		executed INTEGER NOT NULL DEFAULT 0,
		confirmations INTEGER NOT NULL DEFAULT 0,
		submitted_by TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		executed_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS confirmations (
		proposal_id INTEGER NOT NULL,
		principal TEXT NOT NULL,
		PRIMARY KEY (proposal_id, principal)
	);
	CREATE TABLE IF NOT EXISTS event_log (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		actor TEXT,
		at DATETIME NOT NULL,
		details JSON,
		prev_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save replaces the persisted snapshot atomically.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"vault_state", "principals", "assets", "proposals", "confirmations", "event_log"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO vault_state (id, owner, heir, marker, quorum, taken_at) VALUES (1, ?, ?, ?, ?, ?)`,
		snap.Owner.Hex(), snap.Heir.Hex(), snap.Marker.UTC(), snap.Quorum, takenAt)
	if err != nil {
		return fmt.Errorf("save vault state: %w", err)
	}

	for i, p := range snap.Principals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO principals (position, address) VALUES (?, ?)`, i, p.Hex()); err != nil {
			return fmt.Errorf("save principal %s: %w", p.Hex(), err)
		}
	}

	for _, rec := range snap.Assets {
		var amount any
		if rec.Amount != nil {
			amount = rec.Amount.String()
		}
		key := rec.Key()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (contract, token_id, kind, amount) VALUES (?, ?, ?, ?)`,
			key.Contract.Hex(), key.TokenID, string(rec.Kind), amount); err != nil {
			return fmt.Errorf("save asset %s: %w", key, err)
		}
	}

	for _, p := range snap.Proposals {
		var value any
		if p.Value != nil {
			value = p.Value.String()
		}
		var executedAt any
		if p.ExecutedAt != nil {
			executedAt = p.ExecutedAt.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO proposals (id, target, value, payload, executed, confirmations, submitted_by, submitted_at, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Target.Hex(), value, p.Payload, p.Executed, p.Confirmations,
			p.SubmittedBy.Hex(), p.SubmittedAt.UTC(), executedAt); err != nil {
			return fmt.Errorf("save proposal %d: %w", p.ID, err)
		}
		for _, c := range snap.Confirmations[p.ID] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO confirmations (proposal_id, principal) VALUES (?, ?)`,
				p.ID, c.Hex()); err != nil {
				return fmt.Errorf("save confirmation %d/%s: %w", p.ID, c.Hex(), err)
			}
		}
	}

	for _, e := range snap.Events {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode event %d details: %w", e.Sequence, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_log (sequence, id, type, actor, at, details, prev_hash, content_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Sequence, e.ID, string(e.Type), e.Actor, e.Timestamp.UTC(), details, e.PrevHash, e.ContentHash); err != nil {
			return fmt.Errorf("save event %d: %w", e.Sequence, err)
		}
	}

	return tx.Commit()
}

// Load reads the persisted snapshot. Returns contracts.ErrNotFound when the
// database holds no snapshot yet.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Confirmations: make(map[uint64][]common.Address)}

	var owner, heir string
	row := s.db.QueryRowContext(ctx, `SELECT owner, heir, marker, quorum, taken_at FROM vault_state WHERE id = 1`)
	if err := row.Scan(&owner, &heir, &snap.Marker, &snap.Quorum, &snap.TakenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no snapshot", contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("load vault state: %w", err)
	}
	snap.Owner = common.HexToAddress(owner)
	snap.Heir = common.HexToAddress(heir)

	rows, err := s.db.QueryContext(ctx, `SELECT address FROM principals ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load principals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		snap.Principals = append(snap.Principals, common.HexToAddress(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if snap.Assets, err = s.loadAssets(ctx); err != nil {
		return nil, err
	}
	if err := s.loadProposals(ctx, snap); err != nil {
		return nil, err
	}
	if snap.Events, err = s.loadEvents(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadAssets(ctx context.Context) ([]contracts.AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contract, token_id, kind, amount FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AssetRecord
	for rows.Next() {
		var contract, tokenID, kind string
		var amount sql.NullString
		if err := rows.Scan(&contract, &tokenID, &kind, &amount); err != nil {
			return nil, err
		}
		rec := contracts.AssetRecord{
			Contract: common.HexToAddress(contract),
			Kind:     contracts.AssetKind(kind),
		}
		id, ok := new(big.Int).SetString(tokenID, 10)
		if !ok {
			return nil, fmt.Errorf("asset %s: bad token id %q", contract, tokenID)
		}
		rec.TokenID = id
		if amount.Valid {
			amt, ok := new(big.Int).SetString(amount.String, 10)
			if !ok {
				return nil, fmt.Errorf("asset %s: bad amount %q", contract, amount.String)
			}
			rec.Amount = amt
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadProposals(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, value, payload, executed, confirmations, submitted_by, submitted_at, executed_at
		 FROM proposals ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p contracts.Proposal
		var target, submittedBy string
		var value sql.NullString
		var executedAt sql.NullTime
		if err := rows.Scan(&p.ID, &target, &value, &p.Payload, &p.Executed,
			&p.Confirmations, &submittedBy, &p.SubmittedAt, &executedAt); err != nil {
			return err
		}
		p.Target = common.HexToAddress(target)
		p.SubmittedBy = common.HexToAddress(submittedBy)
		if value.Valid {
			v, ok := new(big.Int).SetString(value.String, 10)
			if !ok {
				return fmt.Errorf("proposal %d: bad value %q", p.ID, value.String)
			}
			p.Value = v
		}
		if executedAt.Valid {
			at := executedAt.Time
			p.ExecutedAt = &at
		}
		snap.Proposals = append(snap.Proposals, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := s.db.QueryContext(ctx, `SELECT proposal_id, principal FROM confirmations`)
	if err != nil {
		return fmt.Errorf("load confirmations: %w", err)
	}
	defer func() { _ = crows.Close() }()
	for crows.Next() {
		var id uint64
		var principal string
		if err := crows.Scan(&id, &principal); err != nil {
			return err
		}
		snap.Confirmations[id] = append(snap.Confirmations[id], common.HexToAddress(principal))
	}
	return crows.Err()
}

func (s *SQLiteStore) loadEvents(ctx context.Context) ([]events.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, id, type, actor, at, details, prev_hash, content_hash FROM event_log ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Entry
	for rows.Next() {
		var e events.Entry
		var typ string
		var actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.Sequence, &e.ID, &typ, &actor, &e.Timestamp, &details, &e.PrevHash, &e.ContentHash); err != nil {
			return nil, err
		}
		e.Type = contracts.EventType(typ)
		e.Actor = actor.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("event %d: decode details: %w", e.Sequence, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
