package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	lcschema "github.com/tmc/langchaingo/schema"
	"go.uber.org/zap/zapcore"

	"github.com/finchat-dev/finchat/internal/config"
	"github.com/finchat-dev/finchat/internal/logging"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  SELECT 1  ", "SELECT 1"},
		{"sql fence", "```sql\nSELECT * FROM Transactions\n```", "SELECT * FROM Transactions"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"json fence", "```json\n{\"needs_sql\": true}\n```", `{"needs_sql": true}`},
		{"inline json tag", "```json{\"a\":1}```", `{"a":1}`},
		{"trailing prose", "```sql\nSELECT 1\n```\nThis query counts rows.", "SELECT 1"},
		{"unterminated", "```sql\nSELECT 2", "SELECT 2"},
		{"first line is code", "```SELECT 1 FROM t\nWHERE x = 1```", "SELECT 1 FROM t\nWHERE x = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFence(tt.in))
		})
	}
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func TestRateLimited_Forwards(t *testing.T) {
	next := new(MockCompleter)
	next.On("Complete", mock.Anything, "sys", "usr").Return("ok", nil).Twice()

	r := NewRateLimited(next, 0, 0)
	for i := 0; i < 2; i++ {
		out, err := r.Complete(context.Background(), "sys", "usr")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	next.AssertExpectations(t)
}

func TestRateLimited_CancelledContext(t *testing.T) {
	next := new(MockCompleter)
	next.On("Complete", mock.Anything, "s", "u").Return("ok", nil).Once()
	r := NewRateLimited(next, 0.001, 1)

	_, err := r.Complete(context.Background(), "s", "u")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Complete(ctx, "s", "u")
	assert.ErrorIs(t, err, ErrUpstream)
	next.AssertExpectations(t)
}

func TestTraced_WrapsErrors(t *testing.T) {
	tl := logging.NewTestLogger()
	c := &traced{
		next: CompleterFunc(func(context.Context, string, string) (string, error) {
			return "", errors.New("429 too many requests")
		}),
		provider: "langchaingo",
		logger:   tl.Logger,
	}

	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "429")
	tl.AssertLogged(t, zapcore.ErrorLevel, "llm call failed")
}

func TestTraced_AppliesTimeout(t *testing.T) {
	c := &traced{
		next: CompleterFunc(func(ctx context.Context, _, _ string) (string, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return "fine", nil
		}),
		timeout: time.Second,
		logger:  logging.NewNop(),
	}
	out, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
}

type fakeLangchainModel struct {
	messages []llms.MessageContent
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeLangchainModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	return f.resp, f.err
}

func (f *fakeLangchainModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestLangchainCompleter(t *testing.T) {
	fake := &fakeLangchainModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "SELECT 1"}}}}
	c := NewLangchainWithModel(fake, 0)

	out, err := c.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
	require.Len(t, fake.messages, 2)
	assert.Equal(t, lcschema.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, lcschema.ChatMessageTypeHuman, fake.messages[1].Role)

	fake.resp = &llms.ContentResponse{}
	_, err = c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrUpstream)

	fake.err = errors.New("connection refused")
	_, err = c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrUpstream)
}

type fakeEinoModel struct {
	input []*schema.Message
	resp  *schema.Message
	err   error
}

func (f *fakeEinoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.resp, f.err
}

func (f *fakeEinoModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not used")
}

func TestEinoCompleter(t *testing.T) {
	fake := &fakeEinoModel{resp: schema.AssistantMessage(`{"needs_sql": true}`, nil)}
	c := NewEinoWithModel(fake)

	out, err := c.Complete(context.Background(), "route", "question")
	require.NoError(t, err)
	assert.Equal(t, `{"needs_sql": true}`, out)
	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, "route", fake.input[0].Content)
	assert.Equal(t, schema.User, fake.input[1].Role)

	fake.err = errors.New("timeout")
	_, err = c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: "bogus"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), config.LLMConfig{Provider: "langchaingo", Model: "gpt-4o-mini"}, nil)
	assert.Error(t, err, "api key required")

	_, err = New(context.Background(), config.LLMConfig{
		Provider: "langchaingo", APIType: "azure", Model: "gpt-4o", APIKey: "k",
	}, nil)
	assert.Error(t, err, "azure needs an endpoint")

	c, err := New(context.Background(), config.LLMConfig{
		Provider: "langchaingo", APIType: "openai", Model: "gpt-4o-mini", APIKey: "k", RateLimit: 2, Burst: 4,
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}
