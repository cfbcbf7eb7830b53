package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RateLimiter responde "o provider P aceita mais uma chamada agora?" e
// acompanha a saúde de cada provider.
//
// Store fora do ar é fail-open: a requisição passa e o erro vai para o log.
type RateLimiter struct {
	Store  domain.RateStore
	Limits map[domain.Provider]domain.Limits

	BaseDelay  time.Duration
	MaxBackoff time.Duration

	Now    func() time.Time
	Logger *zap.Logger
}

func (r *RateLimiter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *RateLimiter) log() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// LimitsFor devolve os limites configurados do provider, com defaults.
func (r *RateLimiter) LimitsFor(p domain.Provider) domain.Limits {
	if r == nil {
		return domain.DefaultLimits()
	}
	return r.Limits[p].WithDefaults()
}

// CheckAndConsume nega se a janela de minuto ou de hora atingiu o teto, ou
// se o bucket está vazio. Quando admite, consome um token e incrementa as
// duas janelas atomicamente no store.
//
// A espera sugerida depende do gate que negou: minuto espera a próxima
// virada de minuto, hora espera a próxima virada de hora (pode passar de
// 59 minutos) e bucket espera um token reabastecer.
func (r *RateLimiter) CheckAndConsume(ctx context.Context, p domain.Provider) domain.Decision {
	if r == nil || r.Store == nil {
		return domain.Decision{Allowed: true}
	}

	now := r.now()
	lim := r.LimitsFor(p)

	res, err := r.Store.CheckAndConsume(ctx, p, lim, now)
	if err != nil {
		r.log().Warn("rate store unavailable, failing open",
			zap.String("provider", p.String()), zap.Error(err))
		return domain.Decision{Allowed: true, FailOpen: true}
	}
	if res.Allowed {
		return domain.Decision{Allowed: true}
	}

	var wait time.Duration
	switch res.Gate {
	case domain.GateMinute:
		wait = untilNextWindow(now, 60)
	case domain.GateHour:
		wait = untilNextWindow(now, 3600)
	default:
		deficit := 1 - res.Tokens
		if deficit < 0 {
			deficit = 0
		}
		wait = time.Duration(deficit / lim.RefillPerSecond * float64(time.Second))
	}
	return domain.Decision{Allowed: false, Gate: res.Gate, RetryAfter: wait}
}

// untilNextWindow: tempo até o próximo múltiplo de size segundos desde a época Unix.
func untilNextWindow(now time.Time, size int64) time.Duration {
	next := (now.Unix()/size + 1) * size
	return time.Unix(next, 0).Sub(now)
}

// RecordSuccess zera as falhas consecutivas e limpa o backoff.
func (r *RateLimiter) RecordSuccess(ctx context.Context, p domain.Provider) {
	if r == nil || r.Store == nil {
		return
	}
	if err := r.Store.ResetHealth(ctx, p); err != nil {
		r.log().Warn("reset provider health", zap.String("provider", p.String()), zap.Error(err))
	}
}

// RecordFailure incrementa as falhas e devolve min(MaxBackoff, BaseDelay*2^(n-1)).
func (r *RateLimiter) RecordFailure(ctx context.Context, p domain.Provider) time.Duration {
	if r == nil {
		return 0
	}
	failures := int64(1)
	if r.Store != nil {
		n, err := r.Store.IncrFailures(ctx, p)
		if err != nil {
			r.log().Warn("record provider failure", zap.String("provider", p.String()), zap.Error(err))
		} else {
			failures = n
		}
	}

	d := r.BackoffFor(failures)
	if r.Store != nil {
		if err := r.Store.SetBackoff(ctx, p, d); err != nil {
			r.log().Warn("store provider backoff", zap.String("provider", p.String()), zap.Error(err))
		}
	}
	return d
}

// BackoffFor calcula o atraso para n falhas consecutivas (n >= 1).
func (r *RateLimiter) BackoffFor(n int64) time.Duration {
	base, ceiling := r.BaseDelay, r.MaxBackoff
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	if n < 1 {
		n = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := int64(0); i < n; i++ {
		d = b.NextBackOff()
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// GetStatus nunca muta estado. Erros de store viram campos zerados.
func (r *RateLimiter) GetStatus(ctx context.Context, p domain.Provider, queueLen int64) domain.ProviderStatus {
	lim := r.LimitsFor(p)
	st := domain.ProviderStatus{
		Provider:       p,
		MinuteLimit:    lim.RequestsPerMinute,
		HourLimit:      lim.RequestsPerHour,
		BucketCapacity: lim.BucketCapacity,
		Tokens:         lim.BucketCapacity,
		QueueLength:    queueLen,
	}
	if r == nil || r.Store == nil {
		return st
	}

	if u, err := r.Store.Usage(ctx, p, lim, r.now()); err != nil {
		r.log().Warn("read provider usage", zap.String("provider", p.String()), zap.Error(err))
	} else {
		st.MinuteUsage, st.HourUsage, st.Tokens = u.Minute, u.Hour, u.Tokens
	}
	if h, err := r.Store.Health(ctx, p); err != nil {
		r.log().Warn("read provider health", zap.String("provider", p.String()), zap.Error(err))
	} else {
		st.ConsecutiveFailures = h.ConsecutiveFailures
		st.BackoffSeconds = h.Backoff.Seconds()
	}
	return st
}
