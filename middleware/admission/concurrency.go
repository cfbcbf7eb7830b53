package admission

import (
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/infra"

	"go.uber.org/zap"
)

// ConcurrencyOptions limita requisições HTTP em andamento no listener.
// É independente das vagas de admissão (que limitam chamadas a providers).
type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// RetryAfter vira o header Retry-After na rejeição (0 = omitido).
	RetryAfter time.Duration
	// Exempt deixa passar sem vaga (ex.: GET /v1/status para health check).
	Exempt func(r *http.Request) bool
	Logger *zap.Logger
}

// ConcurrencyMiddleware devolve um passthrough quando Max <= 0.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Exempt != nil && opts.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			release, ok := slots.Acquire(r.Context())
			if !ok {
				logger.Warn("listener saturated",
					zap.String("path", r.URL.Path),
					zap.Int("in_use", slots.InUse()),
					zap.Int("max", slots.Cap()),
				)
				if opts.RetryAfter > 0 {
					w.Header().Set("Retry-After", retryAfterSeconds(opts.RetryAfter.Seconds()))
				}
				writeJSON(w, opts.RejectStatus, errorBody{
					Reason:  "overloaded",
					Message: "too many requests in flight",
				})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

// StatusExempt libera as rotas de leitura de status do limite do listener.
func StatusExempt(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.Path == "/v1/status"
}
