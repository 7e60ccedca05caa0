package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yangwenmai/fieldbox/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ OutboxReader = (*Store)(nil)
	_ OutboxWriter = (*Store)(nil)
)

// ErrMissingID is returned by Put for a submission without an id.
var ErrMissingID = errors.New("submission id is required")

// Store is the durable outbox backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 1

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: outbox table
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the outbox table (v0 → v1). seq records insertion order
// and breaks created_at ties; an upsert keeps the original seq.
func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_uuid TEXT NOT NULL UNIQUE,
		created_at      INTEGER NOT NULL,
		endpoint        TEXT NOT NULL DEFAULT '',
		usuario         TEXT NOT NULL DEFAULT '',
		lote            TEXT NOT NULL DEFAULT '',
		lote_cod        TEXT NOT NULL DEFAULT '',
		cod_atividade   TEXT NOT NULL DEFAULT '',
		atividade       TEXT NOT NULL DEFAULT '',
		app_version     TEXT NOT NULL DEFAULT '',
		lat             REAL,
		long            REAL,
		accuracy_m      REAL,
		obs             TEXT NOT NULL DEFAULT '',
		chuva           TEXT NOT NULL DEFAULT 'null',
		fake_gps        TEXT NOT NULL DEFAULT 'null',
		foto_base64     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_created ON outbox(created_at, seq);
	`)
	return err
}

const submissionColumns = `submission_uuid, created_at, endpoint, usuario, lote, lote_cod, cod_atividade, atividade, app_version, lat, long, accuracy_m, obs, chuva, fake_gps, foto_base64`

// Put inserts or replaces a submission keyed by its id. CreatedAt is
// assigned on sub if it is zero.
func (s *Store) Put(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.SubmissionID == "" {
		return ErrMissingID
	}
	if sub.CreatedAt == 0 {
		sub.CreatedAt = s.now().UnixMilli()
	}
	rain, err := json.Marshal(sub.Rain)
	if err != nil {
		return fmt.Errorf("encode chuva: %w", err)
	}
	fakeGPS, err := json.Marshal(sub.FakeGPS)
	if err != nil {
		return fmt.Errorf("encode fake_gps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_uuid) DO UPDATE SET
			created_at    = excluded.created_at,
			endpoint      = excluded.endpoint,
			usuario       = excluded.usuario,
			lote          = excluded.lote,
			lote_cod      = excluded.lote_cod,
			cod_atividade = excluded.cod_atividade,
			atividade     = excluded.atividade,
			app_version   = excluded.app_version,
			lat           = excluded.lat,
			long          = excluded.long,
			accuracy_m    = excluded.accuracy_m,
			obs           = excluded.obs,
			chuva         = excluded.chuva,
			fake_gps      = excluded.fake_gps,
			foto_base64   = excluded.foto_base64`,
		sub.SubmissionID, sub.CreatedAt, sub.Endpoint, sub.User, sub.Lot, sub.LotCode,
		sub.ActivityCode, sub.Activity, sub.AppVersion, sub.Lat, sub.Long, sub.AccuracyM,
		sub.Notes, string(rain), string(fakeGPS), sub.PhotoBase64,
	)
	return wrap("put", err)
}

// ListOrdered returns every queued submission, oldest first.
func (s *Store) ListOrdered(ctx context.Context) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM outbox ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, wrap("list", err)
		}
		subs = append(subs, *sub)
	}
	return subs, wrap("list", rows.Err())
}

// Get returns one queued submission.
func (s *Store) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM outbox WHERE submission_uuid = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return sub, nil
}

// Delete removes a submission. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE submission_uuid = ?`, id)
	return wrap("delete", err)
}

// Count returns the number of queued submissions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		sub                 model.Submission
		lat, long, accuracy sql.NullFloat64
		rain, fakeGPS       string
	)
	err := row.Scan(&sub.SubmissionID, &sub.CreatedAt, &sub.Endpoint, &sub.User, &sub.Lot, &sub.LotCode,
		&sub.ActivityCode, &sub.Activity, &sub.AppVersion, &lat, &long, &accuracy,
		&sub.Notes, &rain, &fakeGPS, &sub.PhotoBase64)
	if err != nil {
		return nil, err
	}
	sub.Lat = nullFloat(lat)
	sub.Long = nullFloat(long)
	sub.AccuracyM = nullFloat(accuracy)
	if err := json.Unmarshal([]byte(rain), &sub.Rain); err != nil {
		return nil, fmt.Errorf("decode chuva: %w", err)
	}
	if err := json.Unmarshal([]byte(fakeGPS), &sub.FakeGPS); err != nil {
		return nil, fmt.Errorf("decode fake_gps: %w", err)
	}
	return &sub, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
