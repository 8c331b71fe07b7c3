package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/bankassist/internal/domain"
)

// PostgresConversations is a ConversationStore backed by Postgres. Appends to
// one session are serialized with a transaction-scoped advisory lock keyed by
// the session id.
type PostgresConversations struct {
	db  *pgxpool.Pool
	cap int
}

func NewPostgresConversations(db *pgxpool.Pool, capacity int) *PostgresConversations {
	if capacity <= 0 {
		capacity = DefaultConversationCap
	}
	return &PostgresConversations{db: db, cap: capacity}
}

// Append inserts the turn and deletes whatever falls outside the newest cap turns.
func (s *PostgresConversations) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, role)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.StorageError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", sessionID); err != nil {
		return domain.StorageError("session lock", err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO conversation_turns (session_id, role, content) VALUES ($1, $2, $3)",
		sessionID, string(role), content)
	if err != nil {
		return domain.StorageError("insert turn", err)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM conversation_turns
		WHERE session_id = $1
		  AND id NOT IN (
			SELECT id FROM conversation_turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		  )`,
		sessionID, s.cap)
	if err != nil {
		return domain.StorageError("evict turns", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StorageError("tx commit", err)
	}
	return nil
}

// Get returns the newest cap turns of the session, oldest first.
func (s *PostgresConversations) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM conversation_turns
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`,
		sessionID, s.cap)
	if err != nil {
		return nil, domain.StorageError("query turns", err)
	}
	defer rows.Close()

	turns := []domain.Turn{}
	for rows.Next() {
		t := domain.Turn{SessionID: sessionID}
		var role string
		if err := rows.Scan(&role, &t.Content, &t.CreatedAt); err != nil {
			return nil, domain.StorageError("scan turn", err)
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("query turns", err)
	}
	return turns, nil
}

// Clear deletes every turn of the session.
func (s *PostgresConversations) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM conversation_turns WHERE session_id = $1", sessionID); err != nil {
		return domain.StorageError("clear turns", err)
	}
	return nil
}

var _ ConversationStore = (*PostgresConversations)(nil)
