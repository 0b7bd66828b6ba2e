// Package memory provides conversation history storage for multi-turn
// question answering sessions.
package memory

import (
	"strings"
	"sync"
	"time"

	"citerag/internal/citation"
)

// Message represents a single message in a conversation. Assistant
// messages carry the citations attached to the answer.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Citations []citation.Citation
	Timestamp time.Time
}

// Conversation holds the message history for a session.
type Conversation struct {
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides in-memory conversation storage with TTL expiry.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxMessages   int
	ttl           time.Duration
}

// NewStore creates a new conversation memory store.
func NewStore(maxMessages int, ttl time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		maxMessages:   maxMessages,
		ttl:           ttl,
	}

	go s.cleanupLoop()

	return s
}

// DefaultStore creates a store with sensible defaults: 20 messages per
// conversation, 1 hour of inactivity before expiry.
func DefaultStore() *Store {
	return NewStore(20, 1*time.Hour)
}

// AddUserMessage adds a user message to the conversation.
func (s *Store) AddUserMessage(sessionID, content string) {
	s.addMessage(sessionID, Message{Role: "user", Content: content})
}

// AddAssistantMessage adds an assistant answer with its citations.
func (s *Store) AddAssistantMessage(sessionID, content string, citations []citation.Citation) {
	s.addMessage(sessionID, Message{Role: "assistant", Content: content, Citations: citations})
}

func (s *Store) addMessage(sessionID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		conv = &Conversation{CreatedAt: time.Now()}
		s.conversations[sessionID] = conv
	}

	msg.Timestamp = time.Now()
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()

	// Trim old messages if exceeding max (keep recent ones)
	if len(conv.Messages) > s.maxMessages {
		conv.Messages = conv.Messages[len(conv.Messages)-s.maxMessages:]
	}
}

// GetHistory returns the conversation history for a session.
// Returns nil if session doesn't exist.
func (s *Store) GetHistory(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[sessionID]
	if !exists {
		return nil
	}

	messages := make([]Message, len(conv.Messages))
	copy(messages, conv.Messages)
	return messages
}

// GetRecentHistory returns the last N messages for context window management.
func (s *Store) GetRecentHistory(sessionID string, n int) []Message {
	history := s.GetHistory(sessionID)
	if history == nil || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// ClearSession removes a conversation from memory.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

// cleanupLoop periodically removes expired conversations.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup()
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, conv := range s.conversations {
		if now.Sub(conv.UpdatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}

// FormatForPrompt formats the conversation history for inclusion in an LLM
// prompt. Returns empty string if no history exists.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			sb.WriteString("User: " + msg.Content + "\n")
		case "assistant":
			sb.WriteString("Assistant: " + msg.Content + "\n")
		}
	}
	return sb.String()
}
