package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ExecFunc é a chamada ao provider propriamente dita.
type ExecFunc func(ctx context.Context, req domain.RequestDescriptor) (domain.ResponseDescriptor, error)

// FuncExecutor roda cada Submit numa goroutine própria.
type FuncExecutor struct {
	Fn ExecFunc
}

func NewFuncExecutor(fn ExecFunc) *FuncExecutor {
	return &FuncExecutor{Fn: fn}
}

func (e *FuncExecutor) Submit(ctx context.Context, req domain.RequestDescriptor) (*domain.Task, error) {
	if e == nil || e.Fn == nil {
		return nil, fmt.Errorf("executor: no function configured")
	}
	return run(ctx, req, e.Fn), nil
}

func run(ctx context.Context, req domain.RequestDescriptor, fn ExecFunc) *domain.Task {
	task := domain.NewTask(uuid.NewString())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				task.Complete(domain.ResponseDescriptor{}, fmt.Errorf("executor panic: %v", r))
			}
		}()
		resp, err := fn(ctx, req)
		task.Complete(resp, err)
	}()
	return task
}

// HTTPExecutor encaminha a requisição como JSON para um upstream (ex.: um
// worker de LLM) e espera {"content": "...", "model": "..."} de volta.
type HTTPExecutor struct {
	url    string
	client *http.Client
}

type HTTPExecutorOption func(*HTTPExecutor)

func WithHTTPClient(c *http.Client) HTTPExecutorOption {
	return func(e *HTTPExecutor) { e.client = c }
}

func NewHTTPExecutor(url string, opts ...HTTPExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type upstreamRequest struct {
	SessionID   string         `json:"session_id"`
	Model       string         `json:"model"`
	Provider    string         `json:"provider"`
	Payload     string         `json:"payload"`
	Context     map[string]any `json:"context,omitempty"`
	Credentials []string       `json:"credentials,omitempty"`
}

func (e *HTTPExecutor) Submit(ctx context.Context, req domain.RequestDescriptor) (*domain.Task, error) {
	if e.url == "" {
		return nil, fmt.Errorf("executor: upstream url is empty")
	}
	return run(ctx, req, e.call), nil
}

func (e *HTTPExecutor) call(ctx context.Context, req domain.RequestDescriptor) (domain.ResponseDescriptor, error) {
	p := req.Provider()
	body, err := json.Marshal(upstreamRequest{
		SessionID: req.SessionID,
		Model:     req.Model,
		Provider:  string(p),
		Payload:   req.Payload,
		Context:   req.Context,
		// só os nomes; a resolução da credencial é do upstream
		Credentials: req.KeyMaterial().CredentialSet,
	})
	if err != nil {
		return domain.ResponseDescriptor{}, fmt.Errorf("encode upstream request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return domain.ResponseDescriptor{}, fmt.Errorf("build upstream request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if req.SessionID != "" {
		hreq.Header.Set("X-Session-Id", req.SessionID)
	}

	resp, err := e.client.Do(hreq)
	if err != nil {
		return domain.ResponseDescriptor{}, fmt.Errorf("upstream call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return domain.ResponseDescriptor{}, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ResponseDescriptor{}, fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	out := domain.ResponseDescriptor{Model: req.Model, Provider: p}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			return domain.ResponseDescriptor{}, fmt.Errorf("decode upstream response: %w", err)
		}
		if out.Provider == "" {
			out.Provider = p
		}
		return out, nil
	}
	out.Content = string(raw)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ domain.TaskExecutor = (*FuncExecutor)(nil)
	_ domain.TaskExecutor = (*HTTPExecutor)(nil)
)
