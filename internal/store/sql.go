package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/c3-chat/backend/internal/model/chat"
	"github.com/zhouzirui/c3-chat/backend/internal/store/migrations"
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"
)

// SQL is a Store backed by database/sql. The same schema serves SQLite and
// PostgreSQL; queries are written with ? placeholders and rebound per dialect.
type SQL struct {
	db      *sql.DB
	dialect string
}

// OpenSQLite opens (or creates) a SQLite database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		path = "c3-chat.db"
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	return newSQL(ctx, db, dialectSQLite)
}

// OpenPostgres connects through the pgx stdlib driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQL(ctx, db, dialectPostgres)
}

func newSQL(ctx context.Context, db *sql.DB, dialect string) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &SQL{db: db, dialect: dialect}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) q(query string) string { return rebind(s.dialect, query) }

func (s *SQL) UpsertUser(ctx context.Context, identifier string, metadata map[string]string) (chat.User, error) {
	if identifier == "" {
		return chat.User{}, ErrIdentifierNeeded
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return chat.User{}, fmt.Errorf("encode user metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, identifier, metadata, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (identifier) DO UPDATE SET metadata = excluded.metadata`),
		uuid.NewString(), identifier, string(encoded), formatTime(time.Now()))
	if err != nil {
		return chat.User{}, fmt.Errorf("upsert user: %w", err)
	}

	var (
		user      chat.User
		rawMeta   string
		createdAt string
	)
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, identifier, metadata, created_at FROM users WHERE identifier = ?`), identifier)
	if err := row.Scan(&user.ID, &user.Identifier, &rawMeta, &createdAt); err != nil {
		return chat.User{}, fmt.Errorf("load user: %w", err)
	}
	if err := json.Unmarshal([]byte(rawMeta), &user.Metadata); err != nil {
		return chat.User{}, fmt.Errorf("decode user metadata: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return chat.User{}, fmt.Errorf("decode user created_at: %w", err)
	}
	return user, nil
}

func (s *SQL) CreateThread(ctx context.Context, thread chat.Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	meta, err := encodeMetadata(thread.Metadata)
	if err != nil {
		return err
	}
	created := formatTime(thread.CreatedAt)

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO threads (id, user_id, name, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		thread.ID, thread.UserID, thread.Name, meta, created, created)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrThreadExists
		}
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *SQL) GetThread(ctx context.Context, id string) (chat.Thread, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, user_id, name, metadata, created_at, updated_at FROM threads WHERE id = ?`), id)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Thread{}, ErrThreadNotFound
	}
	return thread, err
}

func (s *SQL) UpdateThreadMetadata(ctx context.Context, id, key string, value json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, s.q(`SELECT metadata FROM threads WHERE id = ?`), id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrThreadNotFound
		}
		return fmt.Errorf("load thread metadata: %w", err)
	}

	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return fmt.Errorf("decode thread metadata: %w", err)
	}
	meta[key] = value

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE threads SET metadata = ?, updated_at = ? WHERE id = ?`),
		encoded, formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("update thread metadata: %w", err)
	}
	return tx.Commit()
}

func (s *SQL) ListThreads(ctx context.Context, userID string) ([]chat.Thread, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user_id, name, metadata, created_at, updated_at FROM threads
		WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]chat.Thread, 0)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *SQL) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (chat.Thread, error) {
	var (
		thread           chat.Thread
		meta             string
		created, updated string
	)
	if err := row.Scan(&thread.ID, &thread.UserID, &thread.Name, &meta, &created, &updated); err != nil {
		return chat.Thread{}, err
	}
	if err := json.Unmarshal([]byte(meta), &thread.Metadata); err != nil {
		return chat.Thread{}, fmt.Errorf("decode thread metadata: %w", err)
	}
	var err error
	if thread.CreatedAt, err = parseTime(created); err != nil {
		return chat.Thread{}, err
	}
	if thread.UpdatedAt, err = parseTime(updated); err != nil {
		return chat.Thread{}, err
	}
	return thread, nil
}

func encodeMetadata(meta map[string]json.RawMessage) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode thread metadata: %w", err)
	}
	return string(encoded), nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "sqlstate 23505")
}
