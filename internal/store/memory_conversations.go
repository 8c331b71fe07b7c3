package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/punchamoorthee/bankassist/internal/domain"
)

const conversationShards = 32

type conversationShard struct {
	mu       sync.Mutex
	sessions map[string][]domain.Turn
}

// MemoryConversations is an in-process ConversationStore. Sessions are spread
// over a fixed set of shards; operations on one session always hit the same
// shard lock and are therefore serialized.
type MemoryConversations struct {
	cap    int
	shards [conversationShards]conversationShard
	now    func() time.Time
}

// NewMemoryConversations keeps at most capacity turns per session
// (DefaultConversationCap when capacity <= 0).
func NewMemoryConversations(capacity int) *MemoryConversations {
	if capacity <= 0 {
		capacity = DefaultConversationCap
	}
	c := &MemoryConversations{cap: capacity, now: time.Now}
	for i := range c.shards {
		c.shards[i].sessions = make(map[string][]domain.Turn)
	}
	return c
}

func (c *MemoryConversations) shard(sessionID string) *conversationShard {
	return &c.shards[xxhash.Sum64String(sessionID)%conversationShards]
}

// Append adds a turn and evicts the oldest turns beyond the cap.
func (c *MemoryConversations) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, role)
	}

	s := c.shard(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], domain.Turn{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: c.now(),
	})
	if excess := len(turns) - c.cap; excess > 0 {
		n := copy(turns, turns[excess:])
		clear(turns[n:])
		turns = turns[:n]
	}
	s.sessions[sessionID] = turns
	return nil
}

// Get returns the session's turns oldest first; unknown sessions yield an
// empty slice.
func (c *MemoryConversations) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	s := c.shard(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[sessionID]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Clear drops every turn of the session. Clearing an unknown session is a no-op.
func (c *MemoryConversations) Clear(ctx context.Context, sessionID string) error {
	s := c.shard(sessionID)
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

var _ ConversationStore = (*MemoryConversations)(nil)
