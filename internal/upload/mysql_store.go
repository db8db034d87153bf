package upload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unishare/uploadsvc/internal/storage"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	token            VARCHAR(64)  NOT NULL PRIMARY KEY,
	user_id          VARCHAR(64)  NOT NULL,
	original_filename VARCHAR(255) NOT NULL,
	stored_filename  VARCHAR(255) NOT NULL,
	mime_type        VARCHAR(128) NOT NULL,
	file_size        BIGINT       NOT NULL DEFAULT 0,
	fingerprint      VARCHAR(64)  NULL,
	storage_type     VARCHAR(32)  NOT NULL,
	status           VARCHAR(16)  NOT NULL,
	chunks_total     INT          NOT NULL,
	chunks_received  INT          NOT NULL DEFAULT 0,
	local_path       VARCHAR(512) NULL,
	object_key       VARCHAR(512) NULL,
	external_id      VARCHAR(128) NULL,
	external_url     VARCHAR(1024) NULL,
	error_message    TEXT         NULL,
	owner_kind       VARCHAR(32)  NULL,
	owner_id         BIGINT       NULL,
	created_at       TIMESTAMP    NOT NULL,
	updated_at       TIMESTAMP    NOT NULL,
	INDEX idx_fingerprint (fingerprint),
	INDEX idx_user (user_id)
)`

// MySQLStore persists upload sessions in MySQL
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore initializes the session store and ensures its schema
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(createSessionsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// DB exposes the underlying pool for collaborators that share it, such as
// the advisory lock manager.
func (m *MySQLStore) DB() *sql.DB {
	return m.db
}

// Close closes the database connection
func (m *MySQLStore) Close() error {
	return m.db.Close()
}

// Create inserts a session record with tracing
func (m *MySQLStore) Create(ctx context.Context, s *Session) error {
	ctx, span := tracer.Start(ctx, "mysql.create_session",
		trace.WithAttributes(
			attribute.String("session_token", s.Token),
			attribute.String("file_name", s.OriginalFilename),
			attribute.Int64("file_size", s.FileSize),
		),
	)
	defer span.End()

	query := `INSERT INTO upload_sessions
		(token, user_id, original_filename, stored_filename, mime_type, file_size,
		 fingerprint, storage_type, status, chunks_total, chunks_received,
		 local_path, object_key, external_id, external_url, error_message,
		 owner_kind, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ownerKind, ownerID := ownerColumns(s.Owner)

	_, err := m.db.ExecContext(ctx, query,
		s.Token, s.UserID, s.OriginalFilename, s.StoredFilename, s.MimeType, s.FileSize,
		nullString(s.Fingerprint), string(s.Backend), string(s.Status), s.ChunksTotal, s.ChunksReceived,
		nullString(s.LocalPath), nullString(s.ObjectKey), nullString(s.ExternalID), nullString(s.ExternalURL),
		nullString(s.ErrorMessage), ownerKind, ownerID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert session: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// Get retrieves a session by token with tracing
func (m *MySQLStore) Get(ctx context.Context, token string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_session",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	row := m.db.QueryRowContext(ctx, selectSessionQuery+` WHERE token = ?`, token)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrSessionNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return s, nil
}

// FindCompletedByFingerprint looks up a completed session with the same
// content fingerprint with tracing
func (m *MySQLStore) FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "mysql.find_by_fingerprint",
		trace.WithAttributes(
			attribute.String("fingerprint", fingerprint),
		),
	)
	defer span.End()

	row := m.db.QueryRowContext(ctx,
		selectSessionQuery+` WHERE fingerprint = ? AND status = ? LIMIT 1`,
		fingerprint, string(StatusCompleted),
	)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrSessionNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query session by fingerprint: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return s, nil
}

// Update rewrites a session record with tracing
func (m *MySQLStore) Update(ctx context.Context, s *Session) error {
	ctx, span := tracer.Start(ctx, "mysql.update_session",
		trace.WithAttributes(
			attribute.String("session_token", s.Token),
			attribute.String("status", string(s.Status)),
		),
	)
	defer span.End()

	query := `UPDATE upload_sessions SET
		file_size = ?, fingerprint = ?, status = ?, chunks_received = ?,
		local_path = ?, object_key = ?, external_id = ?, external_url = ?,
		error_message = ?, updated_at = ?
		WHERE token = ?`

	res, err := m.db.ExecContext(ctx, query,
		s.FileSize, nullString(s.Fingerprint), string(s.Status), s.ChunksReceived,
		nullString(s.LocalPath), nullString(s.ObjectKey), nullString(s.ExternalID), nullString(s.ExternalURL),
		nullString(s.ErrorMessage), s.UpdatedAt,
		s.Token,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update session: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return ErrSessionNotFound
	}

	span.SetAttributes(attribute.Bool("update_success", true))
	return nil
}

// IncrementChunksReceived bumps the counter in the database so concurrent
// submissions serialize on the row instead of racing through read-modify-write
func (m *MySQLStore) IncrementChunksReceived(ctx context.Context, token string) (int, error) {
	ctx, span := tracer.Start(ctx, "mysql.increment_chunks_received",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE upload_sessions SET chunks_received = chunks_received + 1, updated_at = ? WHERE token = ?`,
		time.Now(), token,
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to increment chunk counter: %w", err)
	}
	// The counter always changes on a matched row, so zero affected rows
	// means the session does not exist.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return 0, ErrSessionNotFound
	}

	var received int
	if err := tx.QueryRowContext(ctx,
		`SELECT chunks_received FROM upload_sessions WHERE token = ?`, token,
	).Scan(&received); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read chunk counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to commit chunk counter: %w", err)
	}

	span.SetAttributes(attribute.Int("chunks_received", received))
	return received, nil
}

// Delete removes a session record with tracing
func (m *MySQLStore) Delete(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_session",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	_, err := m.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE token = ?`, token)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

const selectSessionQuery = `SELECT token, user_id, original_filename, stored_filename,
	mime_type, file_size, fingerprint, storage_type, status, chunks_total,
	chunks_received, local_path, object_key, external_id, external_url,
	error_message, owner_kind, owner_id, created_at, updated_at
	FROM upload_sessions`

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var fingerprint, localPath, objectKey, externalID, externalURL, errorMessage, ownerKind sql.NullString
	var ownerID sql.NullInt64
	var backend, status string

	err := row.Scan(
		&s.Token, &s.UserID, &s.OriginalFilename, &s.StoredFilename,
		&s.MimeType, &s.FileSize, &fingerprint, &backend, &status, &s.ChunksTotal,
		&s.ChunksReceived, &localPath, &objectKey, &externalID, &externalURL,
		&errorMessage, &ownerKind, &ownerID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Backend = storage.Kind(backend)
	s.Status = Status(status)
	s.Fingerprint = fingerprint.String
	s.LocalPath = localPath.String
	s.ObjectKey = objectKey.String
	s.ExternalID = externalID.String
	s.ExternalURL = externalURL.String
	s.ErrorMessage = errorMessage.String
	if ownerKind.Valid {
		s.Owner = &OwnerRef{Kind: OwnerKind(ownerKind.String), ID: ownerID.Int64}
	}

	return &s, nil
}

func ownerColumns(owner *OwnerRef) (sql.NullString, sql.NullInt64) {
	if owner == nil {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: string(owner.Kind), Valid: true},
		sql.NullInt64{Int64: owner.ID, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
