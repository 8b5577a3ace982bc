// Package sqlite stores records and their key material in a SQLite
// database. Key material lives in its own table and is never returned by
// Get or List.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/hengadev/medx"
)

const dsnOptions = "?_busy_timeout=5000&_foreign_keys=on"

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		entity TEXT NOT NULL,
		id TEXT NOT NULL,
		fields TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (entity, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity);

	CREATE TABLE IF NOT EXISTS key_material (
		entity TEXT NOT NULL,
		id TEXT NOT NULL,
		ibe_a TEXT,
		ibe_r TEXT,
		abe_user_key TEXT,
		abe_attributes TEXT,
		PRIMARY KEY (entity, id),
		FOREIGN KEY (entity, id) REFERENCES records(entity, id) ON DELETE CASCADE
	);
`

// Store implements medx.RecordStore.
type Store struct {
	queries
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is empty", medx.ErrInvalidConfiguration)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory '%s': %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at '%s': %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection test failed for '%s': %w", path, err)
	}

	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// New applies the schema to an open database. Cascading deletes need the
// connection to enable foreign keys; Delete removes key material
// explicitly either way.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is nil", medx.ErrInvalidConfiguration)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file, empty when built with New.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction. fn's error, or a panic, rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(tx medx.RecordTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&tx{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

type tx struct {
	queries
}

func (q queries) Get(ctx context.Context, entity medx.EntityType, id string) (*medx.Record, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT fields FROM records
		WHERE entity = ? AND id = ?
	`, string(entity), id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, medx.NewRecordNotFoundError(entity, id)
		}
		return nil, fmt.Errorf("failed to get %s '%s': %w", entity, id, err)
	}
	return decodeRecord(entity, id, raw)
}

func (q queries) List(ctx context.Context, entity medx.EntityType) ([]*medx.Record, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, fields FROM records
		WHERE entity = ?
		ORDER BY rowid
	`, string(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", entity, err)
	}
	defer rows.Close()

	var recs []*medx.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", entity, err)
		}
		rec, err := decodeRecord(entity, id, raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", entity, err)
	}
	return recs, nil
}

func (q queries) KeyMaterial(ctx context.Context, entity medx.EntityType, id string) (medx.KeyMaterial, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT k.ibe_a, k.ibe_r, k.abe_user_key, k.abe_attributes
		FROM records r
		LEFT JOIN key_material k ON k.entity = r.entity AND k.id = r.id
		WHERE r.entity = ? AND r.id = ?
	`, string(entity), id)
	var a, r, userKey, attrs sql.NullString
	if err := row.Scan(&a, &r, &userKey, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return medx.KeyMaterial{}, medx.NewRecordNotFoundError(entity, id)
		}
		return medx.KeyMaterial{}, fmt.Errorf("failed to get key material of %s '%s': %w", entity, id, err)
	}
	return medx.KeyMaterial{
		IBEA:          a.String,
		IBER:          r.String,
		ABEUserKey:    userKey.String,
		ABEAttributes: attrs.String,
	}, nil
}

func (t *tx) Insert(ctx context.Context, rec *medx.Record) error {
	raw, err := encodeFields(rec)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO records (entity, id, fields) VALUES (?, ?, ?)
	`, string(rec.Entity), rec.ID, raw)
	if err != nil {
		return fmt.Errorf("failed to insert %s '%s': %w", rec.Entity, rec.ID, err)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, rec *medx.Record) error {
	raw, err := encodeFields(rec)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE records SET fields = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity = ? AND id = ?
	`, raw, string(rec.Entity), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update %s '%s': %w", rec.Entity, rec.ID, err)
	}
	return expectAffected(res, rec.Entity, rec.ID)
}

func (t *tx) Delete(ctx context.Context, entity medx.EntityType, id string) error {
	if _, err := t.q.ExecContext(ctx, `
		DELETE FROM key_material WHERE entity = ? AND id = ?
	`, string(entity), id); err != nil {
		return fmt.Errorf("failed to delete key material of %s '%s': %w", entity, id, err)
	}
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM records WHERE entity = ? AND id = ?
	`, string(entity), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s '%s': %w", entity, id, err)
	}
	return expectAffected(res, entity, id)
}

func (t *tx) DeleteByField(ctx context.Context, entity medx.EntityType, field, value string) (int64, error) {
	path := fieldPath(field)
	if _, err := t.q.ExecContext(ctx, `
		DELETE FROM key_material
		WHERE entity = ? AND id IN (
			SELECT id FROM records WHERE entity = ? AND json_extract(fields, ?) = ?
		)
	`, string(entity), string(entity), path, value); err != nil {
		return 0, fmt.Errorf("failed to delete key material of %s records by %s: %w", entity, field, err)
	}
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM records WHERE entity = ? AND json_extract(fields, ?) = ?
	`, string(entity), path, value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s records by %s: %w", entity, field, err)
	}
	return res.RowsAffected()
}

func (t *tx) PutKeyMaterial(ctx context.Context, entity medx.EntityType, id string, km medx.KeyMaterial) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO key_material (entity, id, ibe_a, ibe_r, abe_user_key, abe_attributes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(entity), id, nullString(km.IBEA), nullString(km.IBER), nullString(km.ABEUserKey), nullString(km.ABEAttributes))
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: key material of %s '%s' already stored", medx.ErrKeyMaterialExists, entity, id)
		}
		return fmt.Errorf("failed to store key material of %s '%s': %w", entity, id, err)
	}
	return nil
}

func fieldPath(field string) string {
	b, _ := json.Marshal(field)
	return "$." + string(b)
}

func encodeFields(rec *medx.Record) (string, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields of %s '%s': %w", rec.Entity, rec.ID, err)
	}
	return string(raw), nil
}

func decodeRecord(entity medx.EntityType, id, raw string) (*medx.Record, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s '%s': %w", entity, id, err)
	}
	return &medx.Record{Entity: entity, ID: id, Fields: fields}, nil
}

func expectAffected(res sql.Result, entity medx.EntityType, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return medx.NewRecordNotFoundError(entity, id)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ medx.RecordStore = (*Store)(nil)
	_ medx.RecordTx    = (*tx)(nil)
)
