package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOpenAIAPI is a mock for the OpenAI API
type MockOpenAIAPI struct {
	mock.Mock
}

func (m *MockOpenAIAPI) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockChatAPI struct {
	mock.Mock
}

func (m *MockChatAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func TestClient_GenerateEmbedding_Success(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI, dimensions: DefaultEmbeddingDimensions}

	ctx := context.Background()
	text := "This is a test document about Go programming."
	expectedEmbedding := make([]float32, 1536)
	for i := range expectedEmbedding {
		expectedEmbedding[i] = float32(i) * 0.001
	}

	mockAPI.On("CreateEmbeddings", ctx, text).Return(expectedEmbedding, nil)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.NoError(t, err)
	assert.Len(t, embedding, 1536)
	assert.Equal(t, expectedEmbedding, embedding)
	mockAPI.AssertExpectations(t)
}

func TestClient_GenerateEmbedding_EmptyText(t *testing.T) {
	client := NewClient("")

	ctx := context.Background()
	embedding, err := client.GenerateEmbedding(ctx, "")

	assert.Error(t, err)
	assert.Nil(t, embedding)
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_GenerateEmbedding_APIError(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	ctx := context.Background()
	text := "Test text"
	apiErr := errors.New("API rate limit exceeded")

	mockAPI.On("CreateEmbeddings", ctx, text).Return(nil, apiErr)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.Error(t, err)
	assert.Nil(t, embedding)
	assert.Contains(t, err.Error(), "failed to create embedding")
	mockAPI.AssertExpectations(t)
}

func TestNewClient(t *testing.T) {
	apiKey := "test-api-key"
	client := NewClient(apiKey)

	assert.NotNil(t, client)
	assert.NotNil(t, client.api)
}

func TestClient_GenerateEmbedding_WrongDimensions(t *testing.T) {
	mockAPI := new(MockOpenAIAPI)
	client := &Client{api: mockAPI}

	ctx := context.Background()
	text := "Test text"
	// Return embedding with wrong dimensions
	wrongEmbedding := make([]float32, 512)

	mockAPI.On("CreateEmbeddings", ctx, text).Return(wrongEmbedding, nil)

	embedding, err := client.GenerateEmbedding(ctx, text)

	assert.Error(t, err)
	assert.Nil(t, embedding)
	assert.Equal(t, ErrWrongDimensions, err)
	mockAPI.AssertExpectations(t)
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(Config{APIKey: "test-api-key"})

	assert.Equal(t, DefaultChatModel, client.chatModel)
	assert.Equal(t, DefaultEmbeddingDimensions, client.dimensions)

	custom := NewClientWithConfig(Config{APIKey: "k", ChatModel: "gpt-4o", EmbeddingDimensions: 3})
	assert.Equal(t, "gpt-4o", custom.chatModel)
	assert.Equal(t, 3, custom.dimensions)
}

func TestClient_ChatCompletion_Success(t *testing.T) {
	mockChat := new(MockChatAPI)
	client := &Client{chat: mockChat, chatModel: "test-model"}
	ctx := context.Background()

	mockChat.On("CreateChatCompletion", ctx, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "test-model" &&
			len(req.Messages) == 2 &&
			req.Messages[0].Role == RoleSystem &&
			req.Messages[1].Content == "Explain quantum computing" &&
			req.ResponseFormat == nil
	})).Return(openai.ChatCompletionResponse{
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: RoleAssistant, Content: "  a report  "}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil)

	out, err := client.ChatCompletion(ctx, []Message{
		{Role: RoleSystem, Content: "You are a research assistant."},
		{Role: RoleUser, Content: "Explain quantum computing"},
	}, ChatOptions{})

	require.NoError(t, err)
	assert.Equal(t, "a report", out.Text)
	assert.Equal(t, 15, out.Usage.TotalTokens)
	assert.Equal(t, 10, out.Usage.PromptTokens)
	mockChat.AssertExpectations(t)
}

func TestClient_ChatCompletion_OverridesModelAndJSONMode(t *testing.T) {
	mockChat := new(MockChatAPI)
	client := &Client{chat: mockChat, chatModel: "default-model"}
	ctx := context.Background()

	mockChat.On("CreateChatCompletion", ctx, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "other-model" && req.ResponseFormat != nil && req.MaxTokens == 100
	})).Return(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "[]"}}},
	}, nil)

	out, err := client.ChatCompletion(ctx, []Message{{Role: RoleUser, Content: "q"}}, ChatOptions{
		Model:     "other-model",
		MaxTokens: 100,
		JSONMode:  true,
	})

	require.NoError(t, err)
	assert.Equal(t, "[]", out.Text)
	mockChat.AssertExpectations(t)
}

func TestClient_ChatCompletion_NoMessages(t *testing.T) {
	client := &Client{chat: new(MockChatAPI)}

	out, err := client.ChatCompletion(context.Background(), nil, ChatOptions{})

	assert.Nil(t, out)
	assert.Equal(t, ErrNoMessages, err)
}

func TestClient_ChatCompletion_APIError(t *testing.T) {
	mockChat := new(MockChatAPI)
	client := &Client{chat: mockChat}
	ctx := context.Background()

	mockChat.On("CreateChatCompletion", ctx, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("upstream unavailable"))

	out, err := client.ChatCompletion(ctx, []Message{{Role: RoleUser, Content: "q"}}, ChatOptions{})

	assert.Nil(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create chat completion")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestClient_ChatCompletion_NoChoices(t *testing.T) {
	mockChat := new(MockChatAPI)
	client := &Client{chat: mockChat}
	ctx := context.Background()

	mockChat.On("CreateChatCompletion", ctx, mock.Anything).Return(openai.ChatCompletionResponse{}, nil)

	out, err := client.ChatCompletion(ctx, []Message{{Role: RoleUser, Content: "q"}}, ChatOptions{})

	assert.Nil(t, out)
	assert.Equal(t, ErrEmptyCompletion, err)
}
