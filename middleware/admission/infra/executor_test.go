package infra

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTask(t *testing.T, task *domain.Task) (domain.ResponseDescriptor, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func TestFuncExecutor_RecoversPanic(t *testing.T) {
	ex := NewFuncExecutor(func(context.Context, domain.RequestDescriptor) (domain.ResponseDescriptor, error) {
		panic("boom")
	})
	task, err := ex.Submit(context.Background(), domain.RequestDescriptor{Model: "gpt-4o"})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)

	_, err = waitTask(t, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFuncExecutor_NoFunction(t *testing.T) {
	_, err := (&FuncExecutor{}).Submit(context.Background(), domain.RequestDescriptor{})
	assert.Error(t, err)
}

func TestHTTPExecutor_JSONResponse(t *testing.T) {
	var got upstreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"content":"hello","model":"llama-3.3-70b"}`)
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL + "/", WithHTTPClient(srv.Client()))
	task, err := ex.Submit(context.Background(), domain.RequestDescriptor{
		SessionID:   "s1",
		Model:       "llama-3.3-70b",
		Payload:     "hi",
		Credentials: map[string]string{"groq": "secret"},
	})
	require.NoError(t, err)

	resp, err := waitTask(t, task)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, domain.ProviderGroq, resp.Provider)

	assert.Equal(t, "groq", got.Provider)
	assert.Equal(t, []string{"groq"}, got.Credentials, "only credential names leave the process")
}

func TestHTTPExecutor_PlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "raw answer")
	}))
	defer srv.Close()

	task, err := NewHTTPExecutor(srv.URL).Submit(context.Background(), domain.RequestDescriptor{Model: "gemini-1.5-flash"})
	require.NoError(t, err)
	resp, err := waitTask(t, task)
	require.NoError(t, err)
	assert.Equal(t, "raw answer", resp.Content)
	assert.Equal(t, domain.ProviderGemini, resp.Provider)
}

func TestHTTPExecutor_UpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	task, err := NewHTTPExecutor(srv.URL).Submit(context.Background(), domain.RequestDescriptor{Model: "gpt-4o"})
	require.NoError(t, err)
	_, err = waitTask(t, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPExecutor_EmptyURL(t *testing.T) {
	_, err := NewHTTPExecutor("").Submit(context.Background(), domain.RequestDescriptor{})
	assert.Error(t, err)
}
