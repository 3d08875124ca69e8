package pipeline

import (
	"context"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	"github.com/cloo-solutions/deepresearch/internal/openai"
	"github.com/stretchr/testify/mock"
)

type MockChatModel struct {
	mock.Mock
}

func (m *MockChatModel) ChatCompletion(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (*openai.Completion, error) {
	args := m.Called(ctx, messages, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.Completion), args.Error(1)
}

type MockKnowledgeSearcher struct {
	mock.Mock
}

func (m *MockKnowledgeSearcher) Search(ctx context.Context, scopeID, query string, topK int) ([]domain.KnowledgeHit, error) {
	args := m.Called(ctx, scopeID, query, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgeHit), args.Error(1)
}

type MockWebSearcher struct {
	mock.Mock
}

func (m *MockWebSearcher) Search(ctx context.Context, query string, count int) ([]domain.WebHit, error) {
	args := m.Called(ctx, query, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WebHit), args.Error(1)
}

func completion(text string) *openai.Completion {
	return &openai.Completion{Text: text, Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
}

func floatPtr(v float64) *float64 { return &v }
