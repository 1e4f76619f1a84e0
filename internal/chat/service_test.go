package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/llm"
	"github.com/rowsage/rowsage/internal/rag"
	"github.com/rowsage/rowsage/internal/storage"
)

// mockConversationStore is an in-memory ConversationStore.
type mockConversationStore struct {
	conversations map[uuid.UUID]storage.Conversation
	messages      []storage.Message
	appendErr     error
}

func newMockConversationStore() *mockConversationStore {
	return &mockConversationStore{conversations: make(map[uuid.UUID]storage.Conversation)}
}

func (m *mockConversationStore) Create(ctx context.Context, conv storage.Conversation) (storage.Conversation, error) {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *mockConversationStore) GetByID(ctx context.Context, userID string, id uuid.UUID) (*storage.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, nil
	}
	return &conv, nil
}

func (m *mockConversationStore) ListByUser(ctx context.Context, userID string) ([]storage.Conversation, error) {
	var out []storage.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConversationStore) Touch(ctx context.Context, id uuid.UUID) error { return nil }

func (m *mockConversationStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockConversationStore) AppendMessage(ctx context.Context, msg storage.Message) (storage.Message, error) {
	if m.appendErr != nil {
		return storage.Message{}, m.appendErr
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockConversationStore) ListMessages(ctx context.Context, userID string, conversationID uuid.UUID) ([]storage.Message, error) {
	var out []storage.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockConversationStore) byRole(role string) []storage.Message {
	var out []storage.Message
	for _, msg := range m.messages {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// mockRetriever returns fixed chunks.
type mockRetriever struct {
	chunks []rag.RankedChunk
	err    error
}

func (m *mockRetriever) TopK(ctx context.Context, question string) ([]rag.RankedChunk, error) {
	return m.chunks, m.err
}

func (m *mockRetriever) Mode() string { return "mock" }

// mockCompleter opens scripted streams.
type mockCompleter struct {
	fragments  []string
	openErr    error
	lastSystem string
	lastUser   string
}

func (m *mockCompleter) Stream(ctx context.Context, systemPrompt, userPrompt string) (llm.TokenStream, error) {
	m.lastSystem = systemPrompt
	m.lastUser = userPrompt
	if m.openErr != nil {
		return nil, m.openErr
	}
	return llm.NewSliceStream(m.fragments...), nil
}

func testChunks() []rag.RankedChunk {
	return []rag.RankedChunk{
		{
			Chunk: storage.Chunk{
				ID:         uuid.New(),
				DocID:      storage.KnowledgeBaseDocID,
				ChunkIndex: 1,
				Content:    "name: Bob; age: 25",
				Metadata:   storage.ChunkMetadata{RowNumber: 3},
			},
			SimilarityPct: 87,
		},
	}
}

func newTestService(store *mockConversationStore, ret rag.Retriever, comp llm.Completer) *Service {
	return NewService(store, ret, comp, NewPassthroughRelay(nil), nil)
}

func TestService_Ask(t *testing.T) {
	t.Run("full flow persists question and one answer with citations", func(t *testing.T) {
		store := newMockConversationStore()
		comp := &mockCompleter{fragments: []string{"Bob is ", "25 [Row 3]"}}
		svc := newTestService(store, &mockRetriever{chunks: testChunks()}, comp)
		sink := newRecordingSink()

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: "how old is Bob?"}, sink)
		require.NoError(t, err)

		assert.Equal(t, []string{"citations"}, sink.events)
		assert.Equal(t, "Bob is 25 [Row 3]", strings.Join(sink.deltas, ""))
		assert.Equal(t, 1, sink.done)

		users := store.byRole(storage.RoleUser)
		require.Len(t, users, 1)
		assert.Equal(t, "how old is Bob?", users[0].Content)

		answers := store.byRole(storage.RoleAssistant)
		require.Len(t, answers, 1)
		assert.Equal(t, "Bob is 25 [Row 3]", answers[0].Content)
		require.Len(t, answers[0].Citations, 1)
		assert.Equal(t, 3, answers[0].Citations[0].RowNumber)
		assert.Equal(t, 87, answers[0].Citations[0].SimilarityPct)

		// Prompt contract: context rows reach the model.
		assert.Contains(t, comp.lastUser, "[Row 3]\nname: Bob; age: 25")
	})

	t.Run("new conversation titled from the question", func(t *testing.T) {
		store := newMockConversationStore()
		svc := newTestService(store, &mockRetriever{}, &mockCompleter{fragments: []string{"hi"}})

		long := strings.Repeat("q", 80)
		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: long}, newRecordingSink())
		require.NoError(t, err)

		require.Len(t, store.conversations, 1)
		for _, conv := range store.conversations {
			assert.Len(t, []rune(conv.Title), titleLength+1)
			assert.True(t, strings.HasSuffix(conv.Title, "…"))
		}
	})

	t.Run("empty question is a validation error", func(t *testing.T) {
		svc := newTestService(newMockConversationStore(), &mockRetriever{}, &mockCompleter{})

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: "  "}, newRecordingSink())
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("foreign conversation is not found", func(t *testing.T) {
		store := newMockConversationStore()
		conv, _ := store.Create(context.Background(), storage.Conversation{UserID: "other"})
		svc := newTestService(store, &mockRetriever{}, &mockCompleter{})

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", ConversationID: &conv.ID, Question: "hi"}, newRecordingSink())
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})

	t.Run("empty knowledge base uses empty variant and empty citations", func(t *testing.T) {
		store := newMockConversationStore()
		comp := &mockCompleter{fragments: []string{"No data yet."}}
		svc := newTestService(store, &mockRetriever{}, comp)
		sink := newRecordingSink()

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: "anything?"}, sink)
		require.NoError(t, err)

		assert.Contains(t, comp.lastSystem, "No knowledge base has been synced")
		assert.Equal(t, "anything?", comp.lastUser)

		answers := store.byRole(storage.RoleAssistant)
		require.Len(t, answers, 1)
		assert.Empty(t, answers[0].Citations)
	})

	t.Run("retrieval failure propagates before any sink write", func(t *testing.T) {
		store := newMockConversationStore()
		ret := &mockRetriever{err: apperr.ErrRetrieval}
		svc := newTestService(store, ret, &mockCompleter{})
		sink := newRecordingSink()

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: "hi"}, sink)
		assert.True(t, errors.Is(err, apperr.ErrRetrieval))
		assert.Empty(t, sink.events)
		assert.Empty(t, store.byRole(storage.RoleAssistant))
	})

	t.Run("upstream rate limit persists no assistant message", func(t *testing.T) {
		store := newMockConversationStore()
		comp := &mockCompleter{openErr: llm.MapError(&openai.APIError{HTTPStatusCode: 429})}
		svc := newTestService(store, &mockRetriever{chunks: testChunks()}, comp)
		sink := newRecordingSink()

		err := svc.Ask(context.Background(), AskRequest{UserID: "u1", Question: "hi"}, sink)
		assert.True(t, errors.Is(err, apperr.ErrRateLimited))
		assert.Empty(t, sink.events)
		assert.Len(t, store.byRole(storage.RoleUser), 1)
		assert.Empty(t, store.byRole(storage.RoleAssistant))
	})
}

func TestService_Conversations(t *testing.T) {
	t.Run("messages require ownership", func(t *testing.T) {
		store := newMockConversationStore()
		conv, _ := store.Create(context.Background(), storage.Conversation{UserID: "owner"})
		svc := newTestService(store, &mockRetriever{}, &mockCompleter{})

		_, err := svc.GetMessages(context.Background(), "intruder", conv.ID)
		assert.True(t, errors.Is(err, apperr.ErrNotFound))

		_, err = svc.GetMessages(context.Background(), "owner", conv.ID)
		assert.NoError(t, err)
	})

	t.Run("delete maps missing conversation to not found", func(t *testing.T) {
		svc := newTestService(newMockConversationStore(), &mockRetriever{}, &mockCompleter{})
		err := svc.DeleteConversation(context.Background(), "u1", uuid.New())
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})
}
