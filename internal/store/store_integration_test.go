package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/counsel/internal/store"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("counsel"),
		tcPostgres.WithUsername("counsel"),
		tcPostgres.WithPassword("counsel"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	return fmt.Sprintf("postgres://counsel:counsel@%s:%s/counsel?sslmode=disable", host, port.Port())
}

func seedCorpus(t *testing.T, ctx context.Context, st *store.Store) {
	t.Helper()
	schema := []string{
		`CREATE TABLE statutes (id TEXT PRIMARY KEY, law_name TEXT NOT NULL, article TEXT NOT NULL DEFAULT '', title TEXT NOT NULL DEFAULT '', content TEXT NOT NULL, source_url TEXT NOT NULL DEFAULT '', updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE precedents (id TEXT PRIMARY KEY, case_number TEXT NOT NULL, court_name TEXT NOT NULL DEFAULT '', title TEXT NOT NULL DEFAULT '', summary TEXT NOT NULL, source_url TEXT NOT NULL DEFAULT '', decided_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE answer_templates (id TEXT PRIMARY KEY, category TEXT NOT NULL DEFAULT '', title TEXT NOT NULL DEFAULT '', body TEXT NOT NULL)`,
		`CREATE TABLE users (id TEXT PRIMARY KEY, email TEXT NOT NULL UNIQUE, password_hash TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE conversation_turns (id TEXT PRIMARY KEY, conversation_id TEXT NOT NULL, turn INT NOT NULL, user_message TEXT NOT NULL, final_answer JSONB NOT NULL, created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
	}
	for _, stmt := range schema {
		if _, err := st.DB.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	seed := []string{
		`INSERT INTO statutes (id, law_name, article, title, content) VALUES
			('s1', '근로기준법', '제23조', '해고 등의 제한', '사용자는 근로자에게 정당한 이유 없이 해고하지 못한다'),
			('s2', '민법', '제750조', '불법행위의 내용', '고의 또는 과실로 인한 위법행위로 타인에게 손해를 가한 자는 그 손해를 배상할 책임이 있다')`,
		`INSERT INTO precedents (id, case_number, court_name, title, summary) VALUES
			('p1', '2019두12345', '대법원', '부당해고 구제', '해고의 정당성은 사용자가 증명하여야 한다')`,
		`INSERT INTO answer_templates (id, category, title, body) VALUES
			('t1', '노동', '부당해고 대응 안내', '부당해고를 당한 경우 3개월 이내에 노동위원회에 구제를 신청할 수 있습니다')`,
	}
	for _, stmt := range seed {
		if _, err := st.DB.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestStoreSearchAndArchive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn := startPostgres(t, ctx)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.DB.Close()
	seedCorpus(t, ctx, st)

	statutes, err := st.SearchStatutes(ctx, []string{"해고"}, 10)
	if err != nil {
		t.Fatalf("search statutes: %v", err)
	}
	if len(statutes) != 1 || statutes[0].LawName != "근로기준법" {
		t.Fatalf("unexpected statutes: %+v", statutes)
	}

	precedents, err := st.SearchPrecedents(ctx, []string{"해고"}, 10)
	if err != nil {
		t.Fatalf("search precedents: %v", err)
	}
	if len(precedents) != 1 || precedents[0].CaseNumber != "2019두12345" {
		t.Fatalf("unexpected precedents: %+v", precedents)
	}

	// ranking: a statute matching two keywords outranks one matching one
	ranked, err := st.SearchStatutes(ctx, []string{"손해", "배상"}, 10)
	if err != nil {
		t.Fatalf("ranked search: %v", err)
	}
	if len(ranked) != 1 || ranked[0].LawName != "민법" {
		t.Fatalf("unexpected ranked result: %+v", ranked)
	}

	templates, err := st.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 1 || templates[0].Category != "노동" {
		t.Fatalf("unexpected templates: %+v", templates)
	}

	if err := st.SaveTurn(ctx, "conv-1", 1, "부당해고 질문", map[string]any{"answer": "답변"}); err != nil {
		t.Fatalf("save turn: %v", err)
	}
	var count int
	if err := st.DB.QueryRowContext(ctx, `SELECT count(*) FROM conversation_turns WHERE conversation_id = 'conv-1'`).Scan(&count); err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 archived turn, got %d", count)
	}
}

func TestStoreUsers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn := startPostgres(t, ctx)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.DB.Close()
	seedCorpus(t, ctx, st)

	if err := st.CreateUser(ctx, "Lawyer@Example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, hash, err := st.GetUserByEmail(ctx, "lawyer@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if id == "" || hash != "hash" {
		t.Fatalf("unexpected user: %q %q", id, hash)
	}
}
