// Package memory keeps a bounded, per-user conversation log for the lifetime
// of the process.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"legalguardian/internal/domain"
)

// DefaultMaxHistory is used when the store is created with a non-positive bound.
const DefaultMaxHistory = 8

// ErrInvalidRole is matched by every *InvalidRoleError.
var ErrInvalidRole = errors.New("memory: invalid role")

// InvalidRoleError is returned by Add for roles other than user and assistant.
type InvalidRoleError struct {
	Role domain.Role
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("memory: invalid role %q: use %q or %q", e.Role, domain.RoleUser, domain.RoleAssistant)
}

func (e *InvalidRoleError) Is(target error) bool {
	return target == ErrInvalidRole
}

// Store maps opaque user ids to their conversation logs.
type Store struct {
	maxHistory int

	mu    sync.Mutex
	users map[string]*userLog
}

type userLog struct {
	// turn serializes whole requests for one user; mu guards messages only.
	turn     sync.Mutex
	mu       sync.Mutex
	messages []domain.ChatMessage
}

// New creates a Store bounded to maxHistory messages per user.
func New(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		maxHistory: maxHistory,
		users:      make(map[string]*userLog),
	}
}

// MaxHistory returns the per-user bound.
func (s *Store) MaxHistory() int {
	return s.maxHistory
}

func (s *Store) log(userID string) *userLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	if !ok {
		l = &userLog{}
		s.users[userID] = l
	}
	return l
}

func (s *Store) lookup(userID string) (*userLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[userID]
	return l, ok
}

// Add appends a message and evicts the oldest entries beyond the bound.
func (s *Store) Add(userID string, role domain.Role, content string) error {
	if !role.Valid() {
		return &InvalidRoleError{Role: role}
	}
	l := s.log(userID)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, domain.ChatMessage{Role: role, Content: content})
	if over := len(l.messages) - s.maxHistory; over > 0 {
		kept := make([]domain.ChatMessage, s.maxHistory)
		copy(kept, l.messages[over:])
		l.messages = kept
	}
	return nil
}

// History returns a copy of the user's log in chronological order.
func (s *Store) History(userID string) []domain.ChatMessage {
	l, ok := s.lookup(userID)
	if !ok {
		return []domain.ChatMessage{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Last returns a copy of at most n most recent messages; n <= 0 returns all.
func (s *Store) Last(userID string, n int) []domain.ChatMessage {
	history := s.History(userID)
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Clear empties the user's log. Unknown ids are a no-op.
func (s *Store) Clear(userID string) {
	l, ok := s.lookup(userID)
	if !ok {
		return
	}
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}

// Lock serializes requests for one user and returns the matching unlock.
// Requests for other users are not blocked.
func (s *Store) Lock(userID string) func() {
	l := s.log(userID)
	l.turn.Lock()
	return l.turn.Unlock
}

// Users returns how many users have a tracked log.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Formatted renders the last n messages for debugging.
func (s *Store) Formatted(userID string, n int) string {
	messages := s.Last(userID, n)
	if len(messages) == 0 {
		return "История сообщений пуста"
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(m.Role)), m.Content))
	}
	return strings.Join(lines, "\n")
}
