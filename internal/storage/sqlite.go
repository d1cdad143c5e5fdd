package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/vector"
)

// Stored timestamps are RFC 3339 UTC truncated to whole seconds, so the
// TEXT columns stay fixed width and lexicographic order equals
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// One connection per in-memory database, or the pool hands out
		// fresh empty databases.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
}

// migrate applies pending embedded migrations inside transactions.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate migrations: %w", err)
	}
	rows.Close()

	files, err := migrationFiles("sqlite")
	if err != nil {
		return err
	}
	for _, file := range files {
		if applied[file] {
			continue
		}
		stmt, err := migrationSQL("sqlite", file)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, file); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
		slog.Info("applied migration", "file", file, "driver", "sqlite")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// --- Persons ---

const personColumns = `id, name, face_encoding, registration_date, last_seen, total_detections, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(r rowScanner) (*models.Person, error) {
	var (
		p        models.Person
		encText  string
		regText  string
		lastSeen sql.NullString
		meta     sql.NullString
	)
	if err := r.Scan(&p.ID, &p.Name, &encText, &regText, &lastSeen, &p.TotalDetections, &meta); err != nil {
		return nil, err
	}

	enc, err := vector.Unmarshal(encText)
	if err != nil {
		return nil, fmt.Errorf("person %d: %w", p.ID, err)
	}
	p.Encoding = enc

	reg, err := parseTime(regText)
	if err != nil {
		return nil, fmt.Errorf("person %d registration_date: %w", p.ID, err)
	}
	p.RegisteredAt = reg

	if lastSeen.Valid {
		ls, err := parseTime(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("person %d last_seen: %w", p.ID, err)
		}
		p.LastSeen = &ls
	}
	if meta.Valid && meta.String != "" {
		p.Metadata = json.RawMessage(meta.String)
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePerson(ctx context.Context, name string, encoding []float32, metadata json.RawMessage) (*models.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create person: empty name")
	}
	encText, err := vector.Marshal(encoding)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO persons (name, face_encoding, registration_date, total_detections, metadata)
		 VALUES (?, ?, ?, 0, ?)`,
		name, encText, formatTime(now), string(metadata))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create person %q: %w", name, ErrNameTaken)
		}
		return nil, fmt.Errorf("create person: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create person: last insert id: %w", err)
	}
	return s.GetPerson(ctx, id)
}

func (s *SQLiteStore) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get person %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) queryPersons(ctx context.Context, query string, args ...any) ([]models.Person, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

// ListPersons orders most recently seen first; SQLite sorts NULLs last
// on DESC, so never-seen persons trail, tie-broken by name.
func (s *SQLiteStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	persons, err := s.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons ORDER BY last_seen DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	return persons, nil
}

func (s *SQLiteStore) SearchPersons(ctx context.Context, query string) ([]models.Person, error) {
	persons, err := s.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons WHERE name LIKE ? ORDER BY name ASC`,
		"%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	return persons, nil
}

func (s *SQLiteStore) UpdatePerson(ctx context.Context, id int64, name *string, metadata json.RawMessage) (*models.Person, error) {
	var sets []string
	var args []any
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, fmt.Errorf("update person: empty name")
		}
		sets = append(sets, "name = ?")
		args = append(args, n)
	}
	if metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, string(metadata))
	}
	if len(sets) == 0 {
		return s.GetPerson(ctx, id)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update person %d: %w", id, ErrNameTaken)
		}
		return nil, fmt.Errorf("update person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update person: rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update person %d: %w", id, ErrNotFound)
	}
	return s.GetPerson(ctx, id)
}

func (s *SQLiteStore) ReplaceEncoding(ctx context.Context, id int64, encoding []float32) error {
	encText, err := vector.Marshal(encoding)
	if err != nil {
		return fmt.Errorf("replace encoding: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET face_encoding = ? WHERE id = ?`, encText, id)
	if err != nil {
		return fmt.Errorf("replace encoding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace encoding: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("replace encoding for person %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePerson removes the person and its detection rows in one
// transaction, so the log never references a missing person.
func (s *SQLiteStore) DeletePerson(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete person: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM detection_logs WHERE person_id = ?`, id); err != nil {
		return fmt.Errorf("delete person %d detections: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete person: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete person %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountPersons(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) ListEncodings(ctx context.Context) ([]models.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, face_encoding FROM persons ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list encodings: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		var encText string
		if err := rows.Scan(&p.ID, &p.Name, &encText); err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		enc, err := vector.Unmarshal(encText)
		if err != nil {
			return nil, fmt.Errorf("person %d: %w", p.ID, err)
		}
		p.Encoding = enc
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list encodings: %w", err)
	}
	return persons, nil
}

// --- Detections ---

func (s *SQLiteStore) LogDetection(ctx context.Context, personID int64, at time.Time, confidence float32) (*models.Detection, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("log detection: confidence %v out of range", confidence)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("log detection: begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM persons WHERE id = ?)`, personID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("log detection: check person: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("log detection for person %d: %w", personID, ErrNotFound)
	}

	atText := formatTime(at)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO detection_logs (person_id, detection_time, confidence) VALUES (?, ?, ?)`,
		personID, atText, confidence)
	if err != nil {
		return nil, fmt.Errorf("log detection: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("log detection: last insert id: %w", err)
	}

	// last_seen only moves forward; async reports may arrive out of order.
	if _, err := tx.ExecContext(ctx,
		`UPDATE persons
		 SET total_detections = total_detections + 1,
		     last_seen = CASE WHEN last_seen IS NULL OR last_seen < ? THEN ? ELSE last_seen END
		 WHERE id = ?`,
		atText, atText, personID); err != nil {
		return nil, fmt.Errorf("log detection: bump counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("log detection: commit: %w", err)
	}

	detectedAt, err := parseTime(atText)
	if err != nil {
		return nil, fmt.Errorf("log detection: %w", err)
	}
	return &models.Detection{
		ID:         id,
		PersonID:   personID,
		DetectedAt: detectedAt,
		Confidence: confidence,
	}, nil
}

func (s *SQLiteStore) ListDetections(ctx context.Context, f DetectionFilter) ([]models.Detection, int, error) {
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
	if f.PersonID != nil {
		where += " AND person_id = ?"
		args = append(args, *f.PersonID)
	}
	if f.From != nil {
		where += " AND detection_time >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where += " AND detection_time <= ?"
		args = append(args, formatTime(*f.To))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	query := `SELECT id, person_id, detection_time, confidence FROM detection_logs ` +
		where + ` ORDER BY detection_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		var atText string
		if err := rows.Scan(&d.ID, &d.PersonID, &atText, &d.Confidence); err != nil {
			return nil, 0, fmt.Errorf("scan detection: %w", err)
		}
		at, err := parseTime(atText)
		if err != nil {
			return nil, 0, fmt.Errorf("detection %d: %w", d.ID, err)
		}
		d.DetectedAt = at
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}
	return detections, total, nil
}

// --- Stats ---

func (s *SQLiteStore) OverviewStats(ctx context.Context, since time.Time) (*OverviewStats, error) {
	st := &OverviewStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT person_id) FROM detection_logs WHERE detection_time >= ?`,
		formatTime(since)).Scan(&st.TotalDetections, &st.UniquePersons)
	if err != nil {
		return nil, fmt.Errorf("overview stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) TopPersons(ctx context.Context, since time.Time, limit int) ([]PersonCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, COUNT(d.id) AS cnt
		 FROM detection_logs d
		 JOIN persons p ON p.id = d.person_id
		 WHERE d.detection_time >= ?
		 GROUP BY p.id, p.name
		 ORDER BY cnt DESC, p.name ASC
		 LIMIT ?`,
		formatTime(since), limit)
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

func (s *SQLiteStore) DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d', detection_time) AS day, COUNT(*)
		 FROM detection_logs
		 WHERE detection_time >= ?
		 GROUP BY day
		 ORDER BY day ASC`,
		formatTime(since))
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

func (s *SQLiteStore) SystemStats(ctx context.Context) (*SystemStats, error) {
	st := &SystemStats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&st.TotalPersons); err != nil {
		return nil, fmt.Errorf("system stats: persons: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_logs`).Scan(&st.TotalDetections); err != nil {
		return nil, fmt.Errorf("system stats: detections: %w", err)
	}

	var name string
	var atText string
	err := s.db.QueryRowContext(ctx,
		`SELECT p.name, d.detection_time
		 FROM detection_logs d
		 JOIN persons p ON p.id = d.person_id
		 ORDER BY d.detection_time DESC, d.id DESC
		 LIMIT 1`).Scan(&name, &atText)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("system stats: last detection: %w", err)
	}
	at, err := parseTime(atText)
	if err != nil {
		return nil, fmt.Errorf("system stats: %w", err)
	}
	st.LastPersonName = name
	st.LastDetectedAt = &at
	return st, nil
}
