package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/finchat-dev/finchat/internal/logging"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, query string) ([]string, []Record, error) {
	args := m.Called(ctx, query)
	cols, _ := args.Get(0).([]string)
	recs, _ := args.Get(1).([]Record)
	return cols, recs, args.Error(2)
}

var sampleRecords = []Record{
	{{Name: "cat", Value: "food"}, {Name: "amt", Value: 120.5}},
	{{Name: "cat", Value: "fuel"}, {Name: "amt", Value: 80.0}},
}

func newTestExecutor(r Runner, opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithBaseDelay(time.Millisecond)}, opts...)
	return NewExecutor(r, opts...)
}

func TestExecute_RejectionMakesNoStoreCalls(t *testing.T) {
	runner := new(MockRunner)
	tl := logging.NewTestLogger()
	exec := newTestExecutor(runner, WithLogger(tl.Logger))

	out := exec.Execute(context.Background(), "SELECT * FROM Transactions -- DROP", true)

	require.False(t, out.OK())
	assert.Equal(t, KindValidationRejection, out.Failure.Kind)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, 0, out.Failure.Attempts)
	assert.True(t, errors.Is(out.Failure, ErrRejected))
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	tl.AssertLogged(t, zapcore.WarnLevel, "query rejected by safety gate")
}

func TestExecute_Success(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "SELECT cat, amt FROM t").
		Return([]string{"cat", "amt"}, sampleRecords, nil).Once()

	out := newTestExecutor(runner).Execute(context.Background(), "SELECT cat, amt FROM t", true)

	require.True(t, out.OK())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{"cat", "amt"}, out.Columns)
	assert.Equal(t, sampleRecords, out.Records)
	runner.AssertExpectations(t)
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	for k := 0; k < DefaultMaxAttempts; k++ {
		runner := new(MockRunner)
		if k > 0 {
			runner.On("Run", mock.Anything, mock.Anything).
				Return(nil, nil, errors.New("connection reset by peer")).Times(k)
		}
		runner.On("Run", mock.Anything, mock.Anything).
			Return([]string{"n"}, []Record{{{Name: "n", Value: int64(1)}}}, nil).Once()

		var delays []time.Duration
		exec := newTestExecutor(runner, OnRetry(func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		}))

		out := exec.Execute(context.Background(), "SELECT COUNT(*) AS n FROM t", true)

		require.True(t, out.OK(), "k=%d", k)
		assert.Equal(t, k+1, out.Attempts, "k=%d", k)
		assert.Len(t, delays, k)
		for i, d := range delays {
			assert.Equal(t, time.Millisecond<<uint(i), d, "delay doubles after each attempt")
		}
		runner.AssertExpectations(t)
	}
}

func TestExecute_TransientExhausted(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("Login timeout expired"))

	out := newTestExecutor(runner).Execute(context.Background(), "SELECT 1", true)

	require.False(t, out.OK())
	assert.Equal(t, DefaultMaxAttempts, out.Attempts)
	assert.Equal(t, DefaultMaxAttempts, out.Failure.Attempts)
	assert.Equal(t, KindPermanent, out.Failure.Kind)
	assert.Contains(t, out.Failure.Message, "Login timeout expired")
	runner.AssertNumberOfCalls(t, "Run", DefaultMaxAttempts)
}

func TestExecute_PermanentFailsImmediately(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("Invalid column name 'Amout'")).Once()

	var retried bool
	exec := newTestExecutor(runner, OnRetry(func(int, error, time.Duration) { retried = true }))
	out := exec.Execute(context.Background(), "SELECT Amout FROM t", true)

	require.False(t, out.OK())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, KindPermanent, out.Failure.Kind)
	assert.True(t, errors.Is(out.Failure, ErrPermanent))
	assert.False(t, retried)
	runner.AssertExpectations(t)
}

func TestExecute_ScrubsCredentials(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("login failed for sqlserver://sa:hunter2@db:1433")).Once()
	tl := logging.NewTestLogger()

	out := newTestExecutor(runner, WithLogger(tl.Logger)).Execute(context.Background(), "SELECT 1", true)

	require.False(t, out.OK())
	assert.NotContains(t, out.Failure.Message, "hunter2")
	assert.Contains(t, out.Failure.Message, "sqlserver://sa:[REDACTED]@db:1433")
	tl.AssertField(t, "query attempt failed", "error",
		"login failed for sqlserver://sa:[REDACTED]@db:1433")
}

func TestExecute_NoRetryForcesSingleAttempt(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(nil, nil, errors.New("transaction was deadlocked")).Once()

	out := newTestExecutor(runner).Execute(context.Background(), "SELECT 1", false)

	require.False(t, out.OK())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, KindTransient, out.Failure.Kind)
	runner.AssertExpectations(t)
}

func TestExecute_MaxAttemptsOption(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return(nil, nil, errors.New("network unreachable"))

	out := newTestExecutor(runner, WithMaxAttempts(5)).Execute(context.Background(), "SELECT 1", true)

	assert.Equal(t, 5, out.Attempts)
	runner.AssertNumberOfCalls(t, "Run", 5)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("Connection refused")))
	assert.True(t, IsTransient(errors.New("i/o TIMEOUT")))
	assert.True(t, IsTransient(errors.New("Network error")))
	assert.True(t, IsTransient(errors.New("Transaction (Process ID 52) was deadlocked")))
	assert.False(t, IsTransient(errors.New("syntax error near FROM")))
	assert.False(t, IsTransient(nil))
}

func TestOutcome_JSON(t *testing.T) {
	ok := Outcome{Records: sampleRecords}
	assert.JSONEq(t, `[{"cat":"food","amt":120.5},{"cat":"fuel","amt":80}]`, string(ok.JSON()))
	assert.Equal(t, `[{"cat":"food","amt":120.5},{"cat":"fuel","amt":80}]`, string(ok.JSON()), "field order kept")

	assert.Equal(t, "[]", string(Outcome{}.JSON()))

	failed := Outcome{Failure: &Failure{Kind: KindPermanent, Message: "boom", Query: "SELECT 1", Attempts: 1}}
	var payload map[string]any
	require.NoError(t, json.Unmarshal(failed.JSON(), &payload))
	assert.Equal(t, "boom", payload["error"])
	assert.Equal(t, "SELECT 1", payload["query"])
	assert.EqualValues(t, 1, payload["attempts"])
}

func TestRecord_Get(t *testing.T) {
	r := sampleRecords[0]
	v, ok := r.Get("amt")
	assert.True(t, ok)
	assert.Equal(t, 120.5, v)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"cat", "amt"}, r.Names())
}
