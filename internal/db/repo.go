package db

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

	"triage-intake/pkg"
)

// ErrNotFound is returned when the requested session or record does not exist.
var ErrNotFound = errors.New("db: not found")

// Repository wraps database operations for sessions, messages and symptom
// records.  Queries are written with ? placeholders and rebound for Postgres.
type Repository struct {
	DB      *sql.DB
	Backend string
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB, backend string) *Repository {
	return &Repository{DB: db, Backend: backend}
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.Backend != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func now() time.Time { return time.Now().UTC() }

// CreateSession opens a new active session.
func (r *Repository) CreateSession(ctx context.Context, patientName string, messageCap int) (*pkg.Session, error) {
	s := &pkg.Session{
		ID:          uuid.NewString(),
		PatientName: strings.TrimSpace(patientName),
		Status:      pkg.StatusActive,
		MessageCap:  messageCap,
		CreatedAt:   now(),
	}
	_, err := r.DB.ExecContext(ctx, r.rebind(
		`INSERT INTO sessions (id, patient_name, status, message_cap, created_at)
         VALUES (?, ?, ?, ?, ?)`),
		s.ID, s.PatientName, string(s.Status), s.MessageCap, s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// GetSession loads a session by ID.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*pkg.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrNotFound
	}
	var (
		s         pkg.Session
		status    string
		completed sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, r.rebind(
		`SELECT id, patient_name, status, message_cap, created_at, completed_at
         FROM sessions
         WHERE id = ?`), sessionID,
	).Scan(&s.ID, &s.PatientName, &status, &s.MessageCap, &s.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Status = pkg.SessionStatus(status)
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// CompleteSession marks a session completed.  Completing twice is a no-op.
func (r *Repository) CompleteSession(ctx context.Context, sessionID string) (*pkg.Session, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == pkg.StatusCompleted {
		return s, nil
	}
	t := now()
	_, err = r.DB.ExecContext(ctx, r.rebind(
		`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`),
		string(pkg.StatusCompleted), t, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	s.Status = pkg.StatusCompleted
	s.CompletedAt = &t
	return s, nil
}

// CreateMessage appends a message to the session transcript.
func (r *Repository) CreateMessage(ctx context.Context, sessionID string, role pkg.MessageRole, content string) (*pkg.Message, error) {
	m := pkg.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now(),
	}
	err := r.DB.QueryRowContext(ctx, r.rebind(
		`INSERT INTO messages (session_id, role, content, created_at)
         VALUES (?, ?, ?, ?)
         RETURNING id`),
		sessionID, string(role), content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

// GetTranscript returns every message of a session in insertion order.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(
		`SELECT id, session_id, role, content, created_at
         FROM messages
         WHERE session_id = ?
         ORDER BY id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()
	transcript := []pkg.Message{}
	for rows.Next() {
		var (
			m    pkg.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = pkg.MessageRole(role)
		transcript = append(transcript, m)
	}
	return transcript, rows.Err()
}

// CountUserMessages counts patient messages in a session for usage-cap
// enforcement.
func (r *Repository) CountUserMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, r.rebind(
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ?`),
		sessionID, string(pkg.RoleUser),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetRecord loads the stored symptom record of a session and when it was
// last written.  It returns ErrNotFound when nothing has been stored yet.
func (r *Repository) GetRecord(ctx context.Context, sessionID string) (*pkg.SymptomRecord, time.Time, error) {
	var (
		raw       string
		updatedAt time.Time
	)
	err := r.DB.QueryRowContext(ctx, r.rebind(
		`SELECT record, updated_at FROM symptom_records WHERE session_id = ?`), sessionID,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get record: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec, updatedAt, nil
}

func decodeRecord(raw string) (*pkg.SymptomRecord, error) {
	var rec pkg.SymptomRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Symptoms == nil {
		rec.Symptoms = []pkg.Symptom{}
	}
	return &rec, nil
}

// UpsertRecord stores the symptom record of a session, replacing any
// previous one.
func (r *Repository) UpsertRecord(ctx context.Context, sessionID string, rec pkg.SymptomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, r.rebind(
		`INSERT INTO symptom_records (session_id, record, updated_at)
         VALUES (?, ?, ?)
         ON CONFLICT (session_id)
         DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`),
		sessionID, string(data), now(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// SessionOverview is one row of the doctor listing.
type SessionOverview struct {
	Session   pkg.Session
	Record    *pkg.SymptomRecord
	UpdatedAt time.Time
}

// ListSessions returns sessions newest first.  An empty status lists all.
func (r *Repository) ListSessions(ctx context.Context, status pkg.SessionStatus) ([]SessionOverview, error) {
	query := `SELECT s.id, s.patient_name, s.status, s.message_cap, s.created_at, s.completed_at,
                 r.record, r.updated_at
         FROM sessions s
         LEFT JOIN symptom_records r ON r.session_id = s.id`
	var args []interface{}
	if status != "" {
		query += ` WHERE s.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY s.created_at DESC`

	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionOverview{}
	for rows.Next() {
		var (
			o         SessionOverview
			st        string
			completed sql.NullTime
			raw       sql.NullString
			updated   sql.NullTime
		)
		if err := rows.Scan(&o.Session.ID, &o.Session.PatientName, &st, &o.Session.MessageCap,
			&o.Session.CreatedAt, &completed, &raw, &updated); err != nil {
			return nil, err
		}
		o.Session.Status = pkg.SessionStatus(st)
		if completed.Valid {
			t := completed.Time
			o.Session.CompletedAt = &t
		}
		o.UpdatedAt = o.Session.CreatedAt
		if raw.Valid {
			rec, err := decodeRecord(raw.String)
			if err != nil {
				return nil, err
			}
			o.Record = rec
		}
		if updated.Valid {
			o.UpdatedAt = updated.Time
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
