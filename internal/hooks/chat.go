package hooks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/query"
)

// ChatSession is one conversation in a workspace. Its history lives in the
// store under ChatKey, so it is dropped with the workspace or on logout. An
// open session observes its key, so the history outlives CacheTime until
// Close.
type ChatSession struct {
	h           *Hooks
	workspaceID string
	id          string
	send        *query.Mutation[models.ChatRequest, *models.ChatResponse]
	held        *query.Query[[]models.ChatMessage]

	// mu keeps turns in order; a message is sent with every earlier answer.
	mu sync.Mutex
}

func (h *Hooks) NewChatSession(workspaceID string) *ChatSession {
	return h.ResumeChatSession(workspaceID, uuid.NewString())
}

// ResumeChatSession reopens a session whose history may already be cached.
func (h *Hooks) ResumeChatSession(workspaceID, sessionID string) *ChatSession {
	s := &ChatSession{
		h:           h,
		workspaceID: workspaceID,
		id:          sessionID,
		send:        h.SendChat(),
	}
	s.held = s.Messages()
	return s
}

func (s *ChatSession) ID() string { return s.id }

func (s *ChatSession) Key() query.Key { return ChatKey(s.workspaceID, s.id) }

func (s *ChatSession) History() []models.ChatMessage {
	v, ok := s.h.store.GetData(s.Key())
	if !ok {
		return nil
	}
	msgs, _ := v.([]models.ChatMessage)
	return append([]models.ChatMessage(nil), msgs...)
}

// Messages mounts a read of the history; it updates after every completed turn.
func (s *ChatSession) Messages() *query.Query[[]models.ChatMessage] {
	return query.NewQuery(s.h.store, s.Key(), func(context.Context) ([]models.ChatMessage, error) {
		return s.History(), nil
	}, query.QueryOptions[[]models.ChatMessage]{Disabled: true})
}

// State exposes the in-flight turn: pending while waiting for an answer.
func (s *ChatSession) State() query.MutationState[*models.ChatResponse] {
	return s.send.State()
}

func (s *ChatSession) Subscribe(fn func(query.MutationState[*models.ChatResponse])) func() {
	return s.send.Subscribe(fn)
}

// Send asks message with the prior turns as context. History only grows when
// the backend answers; a failed turn leaves it untouched.
func (s *ChatSession) Send(ctx context.Context, message string, opts ...func(*models.ChatRequest)) (*models.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.History()
	req := models.ChatRequest{
		WorkspaceID: s.workspaceID,
		Message:     message,
		History:     history,
	}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := s.send.Mutate(ctx, req)
	if err != nil {
		return nil, err
	}

	history = append(history,
		models.ChatMessage{Role: models.RoleUser, Content: message},
		models.ChatMessage{Role: models.RoleAssistant, Content: resp.Answer},
	)
	s.h.store.SetData(s.Key(), history)
	return resp, nil
}

// Reset forgets the conversation.
func (s *ChatSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.store.Remove(s.Key())
	s.send.Reset()
}

// Close releases the history to store GC.
func (s *ChatSession) Close() {
	s.held.Close()
	s.send.Close()
}

// WithTopK and WithModel tune a single Send.
func WithTopK(k int) func(*models.ChatRequest) {
	return func(r *models.ChatRequest) { r.TopK = k }
}

func WithModel(provider, model string) func(*models.ChatRequest) {
	return func(r *models.ChatRequest) {
		r.Provider = provider
		r.Model = model
	}
}
