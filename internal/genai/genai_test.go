package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestOpenAIGenerate_Success(t *testing.T) {
	mockResp := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Hola mundo \n"}},
		},
	}
	svc := &mockChatService{resp: mockResp}
	client := &OpenAIClient{chat: svc, model: openai.ChatModelGPT4oMini}

	out, err := client.Generate(context.Background(), "prompt", GenerateOptions{Temperature: 0.2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hola mundo" {
		t.Errorf("expected trimmed output, got %q", out)
	}
	if len(svc.params.Messages) != 1 {
		t.Errorf("expected a single user message, got %d", len(svc.params.Messages))
	}
}

func TestOpenAIGenerate_ServiceError(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Generate(context.Background(), "p", GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestOpenAIGenerate_NoChoices(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{resp: &openai.ChatCompletion{}}}
	_, err := client.Generate(context.Background(), "p", GenerateOptions{})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestConstructorsRequireKey(t *testing.T) {
	if _, err := NewOpenAIClient(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey from OpenAI constructor, got %v", err)
	}
	if _, err := NewGeminiClient(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey from Gemini constructor, got %v", err)
	}
	if _, err := NewGenerator(context.Background(), WithProvider("llama")); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewOpenAIClient_WithKey(t *testing.T) {
	cli, err := NewOpenAIClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != openai.ChatModelGPT4oMini {
		t.Errorf("expected default model, got %q", cli.model)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMockGenerator(t *testing.T) {
	m := NewMockGenerator("uno", "dos")
	ctx := context.Background()

	for _, want := range []string{"uno", "dos", "dos"} {
		got, err := m.Generate(ctx, "p", GenerateOptions{Temperature: 0.3})
		if err != nil || got != want {
			t.Errorf("Generate() = %q, %v; want %q", got, err, want)
		}
	}
	if len(m.Prompts()) != 3 || m.Temperatures()[0] != 0.3 {
		t.Errorf("unexpected recorded calls: %v %v", m.Prompts(), m.Temperatures())
	}

	m.FailWith(errors.New("boom"))
	if _, err := m.Generate(ctx, "p", GenerateOptions{}); err == nil {
		t.Error("expected scripted failure")
	}
}
