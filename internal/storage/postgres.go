package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/models"
)

// PostgresStore is the multi-process backend. Encodings live in a
// pgvector column; all matching still happens in the registry, the
// column type just keeps the rows compact and future-proof.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	files, err := migrationFiles("postgres")
	if err != nil {
		return err
	}
	for _, file := range files {
		if applied[file] {
			continue
		}
		stmt, err := migrationSQL("postgres", file)
		if err != nil {
			return err
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
		slog.Info("applied migration", "file", file, "driver", "postgres")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Persons ---

const pgPersonColumns = `id, name, face_encoding, registration_date, last_seen, total_detections, metadata`

func scanPGPerson(r rowScanner) (*models.Person, error) {
	var (
		p    models.Person
		vec  pgvector.Vector
		meta []byte
	)
	if err := r.Scan(&p.ID, &p.Name, &vec, &p.RegisteredAt, &p.LastSeen, &p.TotalDetections, &meta); err != nil {
		return nil, err
	}
	p.Encoding = vec.Slice()
	if len(meta) > 0 {
		p.Metadata = json.RawMessage(meta)
	}
	return &p, nil
}

func (s *PostgresStore) CreatePerson(ctx context.Context, name string, encoding []float32, metadata json.RawMessage) (*models.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create person: empty name")
	}
	if len(encoding) == 0 {
		return nil, fmt.Errorf("create person: empty encoding")
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (name, face_encoding, registration_date, total_detections, metadata)
		 VALUES ($1, $2, $3, 0, $4) RETURNING id`,
		name, pgvector.NewVector(encoding), time.Now().UTC().Truncate(time.Second), metadata,
	).Scan(&id)
	if err != nil {
		if isPGUniqueViolation(err) {
			return nil, fmt.Errorf("create person %q: %w", name, ErrNameTaken)
		}
		return nil, fmt.Errorf("create person: %w", err)
	}
	return s.GetPerson(ctx, id)
}

func (s *PostgresStore) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPersonColumns+` FROM persons WHERE id = $1`, id)
	p, err := scanPGPerson(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get person %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) queryPersons(ctx context.Context, query string, args ...any) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPGPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	persons, err := s.queryPersons(ctx,
		`SELECT `+pgPersonColumns+` FROM persons ORDER BY last_seen DESC NULLS LAST, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	return persons, nil
}

func (s *PostgresStore) SearchPersons(ctx context.Context, query string) ([]models.Person, error) {
	persons, err := s.queryPersons(ctx,
		`SELECT `+pgPersonColumns+` FROM persons WHERE name ILIKE $1 ORDER BY name ASC`,
		"%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	return persons, nil
}

func (s *PostgresStore) UpdatePerson(ctx context.Context, id int64, name *string, metadata json.RawMessage) (*models.Person, error) {
	var sets []string
	var args []any
	argIdx := 1
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, fmt.Errorf("update person: empty name")
		}
		sets = append(sets, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, n)
		argIdx++
	}
	if metadata != nil {
		sets = append(sets, fmt.Sprintf("metadata = $%d", argIdx))
		args = append(args, metadata)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetPerson(ctx, id)
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE persons SET %s WHERE id = $%d`, strings.Join(sets, ", "), argIdx),
		args...)
	if err != nil {
		if isPGUniqueViolation(err) {
			return nil, fmt.Errorf("update person %d: %w", id, ErrNameTaken)
		}
		return nil, fmt.Errorf("update person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("update person %d: %w", id, ErrNotFound)
	}
	return s.GetPerson(ctx, id)
}

func (s *PostgresStore) ReplaceEncoding(ctx context.Context, id int64, encoding []float32) error {
	if len(encoding) == 0 {
		return fmt.Errorf("replace encoding: empty encoding")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET face_encoding = $1 WHERE id = $2`,
		pgvector.NewVector(encoding), id)
	if err != nil {
		return fmt.Errorf("replace encoding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace encoding for person %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeletePerson(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete person: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM detection_logs WHERE person_id = $1`, id); err != nil {
		return fmt.Errorf("delete person %d detections: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete person %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CountPersons(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM persons`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListEncodings(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, face_encoding FROM persons ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list encodings: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		var vec pgvector.Vector
		if err := rows.Scan(&p.ID, &p.Name, &vec); err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		p.Encoding = vec.Slice()
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list encodings: %w", err)
	}
	return persons, nil
}

// --- Detections ---

func (s *PostgresStore) LogDetection(ctx context.Context, personID int64, at time.Time, confidence float32) (*models.Detection, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("log detection: confidence %v out of range", confidence)
	}
	at = at.UTC().Truncate(time.Second)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("log detection: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM persons WHERE id = $1)`, personID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("log detection: check person: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("log detection for person %d: %w", personID, ErrNotFound)
	}

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO detection_logs (person_id, detection_time, confidence)
		 VALUES ($1, $2, $3) RETURNING id`,
		personID, at, confidence).Scan(&id); err != nil {
		return nil, fmt.Errorf("log detection: insert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE persons
		 SET total_detections = total_detections + 1,
		     last_seen = GREATEST(COALESCE(last_seen, $1), $1)
		 WHERE id = $2`,
		at, personID); err != nil {
		return nil, fmt.Errorf("log detection: bump counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("log detection: commit: %w", err)
	}
	return &models.Detection{ID: id, PersonID: personID, DetectedAt: at, Confidence: confidence}, nil
}

func (s *PostgresStore) ListDetections(ctx context.Context, f DetectionFilter) ([]models.Detection, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE 1=1"
	var args []any
	argIdx := 1
	if f.PersonID != nil {
		where += fmt.Sprintf(" AND person_id = $%d", argIdx)
		args = append(args, *f.PersonID)
		argIdx++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND detection_time >= $%d", argIdx)
		args = append(args, f.From.UTC())
		argIdx++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND detection_time <= $%d", argIdx)
		args = append(args, f.To.UTC())
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM detection_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, person_id, detection_time, confidence FROM detection_logs %s
		 ORDER BY detection_time DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.ID, &d.PersonID, &d.DetectedAt, &d.Confidence); err != nil {
			return nil, 0, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}
	return detections, total, nil
}

// --- Stats ---

func (s *PostgresStore) OverviewStats(ctx context.Context, since time.Time) (*OverviewStats, error) {
	st := &OverviewStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT person_id) FROM detection_logs WHERE detection_time >= $1`,
		since.UTC()).Scan(&st.TotalDetections, &st.UniquePersons)
	if err != nil {
		return nil, fmt.Errorf("overview stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) TopPersons(ctx context.Context, since time.Time, limit int) ([]PersonCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, COUNT(d.id) AS cnt
		 FROM detection_logs d
		 JOIN persons p ON p.id = d.person_id
		 WHERE d.detection_time >= $1
		 GROUP BY p.id, p.name
		 ORDER BY cnt DESC, p.name ASC
		 LIMIT $2`,
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("top persons: %w", err)
	}
	defer rows.Close()

	var out []PersonCount
	for rows.Next() {
		var pc PersonCount
		if err := rows.Scan(&pc.PersonID, &pc.Name, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan top person: %w", err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top persons: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(detection_time AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM detection_logs
		 WHERE detection_time >= $1
		 GROUP BY day
		 ORDER BY day ASC`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SystemStats(ctx context.Context) (*SystemStats, error) {
	st := &SystemStats{}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM persons`).Scan(&st.TotalPersons); err != nil {
		return nil, fmt.Errorf("system stats: persons: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM detection_logs`).Scan(&st.TotalDetections); err != nil {
		return nil, fmt.Errorf("system stats: detections: %w", err)
	}

	var name string
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT p.name, d.detection_time
		 FROM detection_logs d
		 JOIN persons p ON p.id = d.person_id
		 ORDER BY d.detection_time DESC, d.id DESC
		 LIMIT 1`).Scan(&name, &at)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("system stats: last detection: %w", err)
	}
	st.LastPersonName = name
	st.LastDetectedAt = &at
	return st, nil
}
