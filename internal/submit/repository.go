package submit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Submission is one delivered result as recorded in the local ledger.
type Submission struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	Mode             Mode            `json:"mode"`
	Layout           string          `json:"layout"`
	City             string          `json:"city"`
	Area             string          `json:"area"`
	Place            string          `json:"place"`
	TotalSegments    int             `json:"total_segments"`
	SelectedSegments int             `json:"selected_segments"`
	Percentage       float64         `json:"percentage"`
	DeliveredTo      string          `json:"delivered_to"`
	Document         json.RawMessage `json:"document"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Repository interface {
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]*Submission, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Fixed width so that created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const submissionColumns = `id, session_id, mode, layout, city, area, place, total_segments,
	selected_segments, percentage, delivered_to, document, created_at`

func (r *SQLiteRepository) CreateSubmission(ctx context.Context, s *Submission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.SessionID, string(s.Mode), s.Layout, s.City, s.Area, s.Place, s.TotalSegments,
		s.SelectedSegments, s.Percentage, s.DeliveredTo, string(s.Document), s.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (r *SQLiteRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	s, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SQLiteRepository) ListSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var s Submission
	var mode, document, createdAt string

	err := row.Scan(&s.ID, &s.SessionID, &mode, &s.Layout, &s.City, &s.Area, &s.Place, &s.TotalSegments,
		&s.SelectedSegments, &s.Percentage, &s.DeliveredTo, &document, &createdAt)
	if err != nil {
		return nil, err
	}
	s.Mode = Mode(mode)
	s.Document = json.RawMessage(document)
	s.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &s, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

const instanceIDKey = "instance_id"

// InstanceID returns the persistent id of this installation, creating it on
// first use.
func InstanceID(ctx context.Context, repo Repository) (string, error) {
	id, err := repo.GetConfig(ctx, instanceIDKey)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := repo.SetConfig(ctx, instanceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}
