package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store wraps the Postgres connection for the legal corpus and service tables.
type Store struct {
	DB *sql.DB
}

// Statute is one law article row from the internal corpus.
type Statute struct {
	ID        string
	LawName   string
	Article   string
	Title     string
	Content   string
	SourceURL string
	UpdatedAt time.Time
}

// Precedent is one court decision row from the internal corpus.
type Precedent struct {
	ID         string
	CaseNumber string
	CourtName  string
	Title      string
	Summary    string
	SourceURL  string
	DecidedAt  time.Time
}

// Template is a curated answer template indexed in memory for retrieval.
type Template struct {
	ID       string
	Category string
	Title    string
	Body     string
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// SearchStatutes returns statutes matching any of the keywords, ranked by
// how many keywords hit. Ordering is deterministic (rank desc, id asc).
func (s *Store) SearchStatutes(ctx context.Context, keywords []string, limit int) ([]Statute, error) {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, law_name, article, title, content, source_url, updated_at,
		       (SELECT count(*) FROM unnest($1::text[]) kw
		        WHERE law_name ILIKE '%'||kw||'%'
		           OR title ILIKE '%'||kw||'%'
		           OR content ILIKE '%'||kw||'%') AS rank
		FROM statutes
		WHERE EXISTS (SELECT 1 FROM unnest($1::text[]) kw
		              WHERE law_name ILIKE '%'||kw||'%'
		                 OR title ILIKE '%'||kw||'%'
		                 OR content ILIKE '%'||kw||'%')
		ORDER BY rank DESC, id ASC
		LIMIT $2`, pq.Array(keywords), limit)
	if err != nil {
		return nil, fmt.Errorf("search statutes: %w", err)
	}
	defer rows.Close()

	var out []Statute
	for rows.Next() {
		var st Statute
		var rank int
		if err := rows.Scan(&st.ID, &st.LawName, &st.Article, &st.Title, &st.Content, &st.SourceURL, &st.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SearchPrecedents returns precedents matching any keyword, ranked like statutes.
func (s *Store) SearchPrecedents(ctx context.Context, keywords []string, limit int) ([]Precedent, error) {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, case_number, court_name, title, summary, source_url, decided_at,
		       (SELECT count(*) FROM unnest($1::text[]) kw
		        WHERE case_number ILIKE '%'||kw||'%'
		           OR title ILIKE '%'||kw||'%'
		           OR summary ILIKE '%'||kw||'%') AS rank
		FROM precedents
		WHERE EXISTS (SELECT 1 FROM unnest($1::text[]) kw
		              WHERE case_number ILIKE '%'||kw||'%'
		                 OR title ILIKE '%'||kw||'%'
		                 OR summary ILIKE '%'||kw||'%')
		ORDER BY rank DESC, id ASC
		LIMIT $2`, pq.Array(keywords), limit)
	if err != nil {
		return nil, fmt.Errorf("search precedents: %w", err)
	}
	defer rows.Close()

	var out []Precedent
	for rows.Next() {
		var p Precedent
		var rank int
		if err := rows.Scan(&p.ID, &p.CaseNumber, &p.CourtName, &p.Title, &p.Summary, &p.SourceURL, &p.DecidedAt, &rank); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListTemplates returns the full template corpus for in-memory indexing.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, category, title, body FROM answer_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Category, &t.Title, &t.Body); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, now())`,
		uuid.NewString(), strings.ToLower(strings.TrimSpace(email)), passwordHash)
	return err
}

// GetUserByEmail returns a user's id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&id, &hash)
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}

// SaveTurn archives one completed turn for later inspection. The final answer
// is stored as JSON; turns of evicted conversations survive here.
func (s *Store) SaveTurn(ctx context.Context, conversationID string, turn int, userMessage string, finalAnswer interface{}) error {
	payload, err := json.Marshal(finalAnswer)
	if err != nil {
		return fmt.Errorf("marshal final answer: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, conversation_id, turn, user_message, final_answer, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.NewString(), conversationID, turn, userMessage, payload)
	return err
}

func cleanKeywords(keywords []string) []string {
	out := keywords[:0:0]
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
