package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/finchat-dev/finchat/internal/logging"
	"github.com/finchat-dev/finchat/internal/orchestrator"
	"github.com/finchat-dev/finchat/internal/session"
	"github.com/finchat-dev/finchat/internal/shaper"
)

const testChart = "chart_0123456789abcdef0123456789abcdef.png"

// stubRunner answers from a fixed result, or fails with err.
type stubRunner struct {
	result orchestrator.Result
	err    error
}

func (r stubRunner) Run(_ context.Context, history []orchestrator.Turn, _ string) (*orchestrator.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	res := r.result
	res.History = append(append([]orchestrator.Turn(nil), history...),
		orchestrator.Turn{Role: orchestrator.RoleAssistant, Content: res.FinalAnswer})
	return &res, nil
}

func tableResult(chartDir string) orchestrator.Result {
	chartPath := filepath.Join(chartDir, testChart)
	return orchestrator.Result{
		FinalAnswer:    "Food leads.\n\nChart saved to: " + chartPath,
		GeneratedQuery: "SELECT cat, amt FROM Spend",
		Table: &shaper.Table{
			Columns:       []string{"cat", "amt"},
			Rows:          [][]any{{"food", 120.5}, {"fuel", int64(80)}},
			TotalRowCount: 2,
		},
		Disclosed:      true,
		ChartReference: chartPath,
	}
}

func setupTestServer(t *testing.T, runner session.Runner, cfg *Config) (*Server, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager(nil, runner, nil)
	require.NoError(t, err)
	server, err := NewServer(mgr, logging.NewNop(), cfg)
	require.NoError(t, err)
	return server, mgr
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _ := setupTestServer(t, stubRunner{}, nil)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 7860, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		mgr, err := session.NewManager(nil, stubRunner{}, nil)
		require.NoError(t, err)
		_, err = NewServer(mgr, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when session manager is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session manager cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, stubRunner{}, &Config{Version: "1.2.3"})

	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestHandleIndex(t *testing.T) {
	server, _ := setupTestServer(t, stubRunner{}, nil)
	rec := do(t, server, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>finchat</title>")
}

func TestHandleMessage(t *testing.T) {
	dir := t.TempDir()

	t.Run("returns artifacts", func(t *testing.T) {
		server, _ := setupTestServer(t, stubRunner{result: tableResult(dir)}, &Config{ChartDir: dir})
		id := createSession(t, server)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Question: "Show spend by category"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Food leads.", resp.Answer)
		assert.Equal(t, "/charts/"+testChart, resp.ChartURL)
		assert.Equal(t, "SELECT cat, amt FROM Spend", resp.GeneratedQuery)
		assert.True(t, resp.Disclosed)
		require.NotNil(t, resp.Table)
		assert.Equal(t, []string{"cat", "amt"}, resp.Table.Columns)
		assert.Empty(t, resp.Error)

		rec = do(t, server, http.MethodGet, "/api/v1/sessions/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var sess SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
		assert.Len(t, sess.History, 2)
	})

	t.Run("hides undisclosed table", func(t *testing.T) {
		result := tableResult(dir)
		result.Disclosed = false
		server, _ := setupTestServer(t, stubRunner{result: result}, nil)
		id := createSession(t, server)

		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Question: "how much?"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"table":null`)
	})

	t.Run("rejects empty question", func(t *testing.T) {
		server, _ := setupTestServer(t, stubRunner{}, nil)
		id := createSession(t, server)
		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Question: "   "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		server, _ := setupTestServer(t, stubRunner{}, nil)
		rec := do(t, server, http.MethodPost, "/api/v1/sessions/nope/messages", MessageRequest{Question: "q"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no answer", func(t *testing.T) {
		server, mgr := setupTestServer(t, stubRunner{err: orchestrator.ErrNoAnswer}, nil)
		id := createSession(t, server)
		rec := do(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Question: "q"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		sess, err := mgr.Get(id)
		require.NoError(t, err)
		assert.Empty(t, sess.History())
	})
}

func TestHandleDeleteSession(t *testing.T) {
	server, _ := setupTestServer(t, stubRunner{}, nil)
	id := createSession(t, server)

	assert.Equal(t, http.StatusNoContent, do(t, server, http.MethodDelete, "/api/v1/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, server, http.MethodDelete, "/api/v1/sessions/"+id, nil).Code)
}

func TestHandleExport(t *testing.T) {
	dir := t.TempDir()
	server, _ := setupTestServer(t, stubRunner{result: tableResult(dir)}, nil)
	id := createSession(t, server)

	rec := do(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/export.csv", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing to export before the first answer")

	rec = do(t, server, http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Question: "show spend"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cat,amt\nfood,120.5\nfuel,80\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "results.csv")

	rec = do(t, server, http.MethodGet, "/api/v1/sessions/"+id+"/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"cat", "amt"}, rows[0])
}

func TestHandleChart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, testChart), []byte("\x89PNG"), 0o644))
	server, _ := setupTestServer(t, stubRunner{}, &Config{ChartDir: dir})

	rec := do(t, server, http.MethodGet, "/charts/"+testChart, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\x89PNG", rec.Body.String())

	rec = do(t, server, http.MethodGet, "/charts/..%2Fsecret.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server, http.MethodGet, "/charts/chart_ffffffffffffffffffffffffffffffff.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	server, _ := setupTestServer(t, stubRunner{}, &Config{AuthUser: "admin", AuthPassword: "s3cret"})

	rec := do(t, server, http.MethodPost, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, server, http.MethodGet, "/health", nil).Code, "health stays open")
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t, stubRunner{}, nil)
	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
