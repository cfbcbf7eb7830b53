package admission

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// StatusClientClosedRequest é o código não padrão (nginx) para cancelamento pelo cliente.
const StatusClientClosedRequest = 499

// Admitter é a superfície que o adapter HTTP precisa; *application.Middleware implementa.
type Admitter interface {
	Admit(ctx context.Context, req domain.RequestDescriptor, useCache, useQueue bool) domain.Outcome
	GetQueueStatus(ctx context.Context) domain.QueueStatus
	TaskStatus(ctx context.Context, taskID string) (domain.TaskStatus, error)
}

type KeyFunc func(r *http.Request) string

type Options struct {
	Admitter Admitter
	// KeyFn extrai a sessão quando o corpo não traz session_id.
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	// MaxBodyBytes limita o corpo do POST /v1/admit (padrão 1MiB).
	MaxBodyBytes int64
	// AddAdmissionHeaders adiciona X-Admission-* na resposta.
	AddAdmissionHeaders bool
	Logger              *zap.Logger
}

// admitRequest é o corpo de POST /v1/admit. use_cache/use_queue ausentes valem true.
type admitRequest struct {
	SessionID   string            `json:"session_id"`
	Model       string            `json:"model"`
	Payload     string            `json:"payload"`
	Context     map[string]any    `json:"context,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Premium     bool              `json:"premium"`
	UseCache    *bool             `json:"use_cache,omitempty"`
	UseQueue    *bool             `json:"use_queue,omitempty"`
}

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Handler monta as rotas:
//
//	POST /v1/admit       → Outcome
//	GET  /v1/status      → QueueStatus
//	GET  /v1/tasks/{id}  → TaskStatus
func Handler(opts Options) http.Handler {
	if opts.KeyHeader == "" {
		opts.KeyHeader = "X-Session-Id"
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/admit", func(w http.ResponseWriter, r *http.Request) {
		var body admitRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, opts.MaxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Reason: "bad_request", Message: "invalid JSON body: " + err.Error()})
			return
		}
		if strings.TrimSpace(body.Model) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Reason: "bad_request", Message: "model is required"})
			return
		}

		req := domain.RequestDescriptor{
			SessionID:   body.SessionID,
			Model:       body.Model,
			Payload:     body.Payload,
			Context:     body.Context,
			Credentials: body.Credentials,
			Premium:     body.Premium,
			ArrivedAt:   time.Now().UTC(),
		}
		if req.SessionID == "" {
			req.SessionID = opts.KeyFn(r)
		}

		out := opts.Admitter.Admit(r.Context(), req, boolOr(body.UseCache, true), boolOr(body.UseQueue, true))

		if opts.AddAdmissionHeaders {
			w.Header().Set("X-Admission-Outcome", string(out.Kind))
			w.Header().Set("X-Admission-Provider", out.Provider.String())
			if out.Kind == domain.OutcomeImmediate {
				if out.Cached {
					w.Header().Set("X-Cache", "HIT")
				} else {
					w.Header().Set("X-Cache", "MISS")
				}
			}
		}
		if out.Reason == domain.ReasonRateLimited {
			w.Header().Set("Retry-After", retryAfterSeconds(out.WaitSeconds))
			w.Header().Set("X-RateLimit-Wait", formatFloat(out.WaitSeconds))
		}
		if out.Kind == domain.OutcomeQueued {
			w.Header().Set("Location", "/v1/tasks/"+out.TaskID)
		}

		writeJSON(w, StatusFor(out), out)
	})

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.Admitter.GetQueueStatus(r.Context()))
	})

	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		st, err := opts.Admitter.TaskStatus(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			writeJSON(w, http.StatusNotFound, errorBody{Reason: "not_found", Message: "unknown task"})
		case err != nil:
			opts.Logger.Warn("task status lookup failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Reason: string(domain.ReasonStoreUnavailable), Message: "task store unavailable"})
		default:
			writeJSON(w, http.StatusOK, st)
		}
	})

	return mux
}

// StatusFor traduz o Outcome para o status HTTP.
func StatusFor(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeImmediate:
		return http.StatusOK
	case domain.OutcomeQueued:
		return http.StatusAccepted
	}
	switch out.Reason {
	case domain.ReasonRateLimited:
		return http.StatusTooManyRequests
	case domain.ReasonQueueFull, domain.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.ReasonTimeout:
		return http.StatusGatewayTimeout
	case domain.ReasonCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
