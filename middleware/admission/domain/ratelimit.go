package domain

// Camada de domínio do rate limit por provider.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Limits são as constantes de limite de um provider.
type Limits struct {
	RequestsPerMinute int64   `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int64   `yaml:"requests_per_hour" json:"requests_per_hour"`
	BucketCapacity    float64 `yaml:"bucket_capacity" json:"bucket_capacity"`
	RefillPerSecond   float64 `yaml:"refill_per_second" json:"refill_per_second"`
}

// DefaultLimits: 60/min, 1000/hora e um bucket que suaviza em 1 req/s com
// rajada de 10.
func DefaultLimits() Limits {
	return Limits{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		BucketCapacity:    10,
		RefillPerSecond:   1,
	}
}

// WithDefaults preenche campos zerados com DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = d.RequestsPerMinute
	}
	if l.RequestsPerHour <= 0 {
		l.RequestsPerHour = d.RequestsPerHour
	}
	if l.BucketCapacity <= 0 {
		l.BucketCapacity = d.BucketCapacity
	}
	if l.RefillPerSecond <= 0 {
		l.RefillPerSecond = d.RefillPerSecond
	}
	return l
}

// DenyGate indica qual mecanismo negou a admissão.
type DenyGate string

const (
	GateNone   DenyGate = ""
	GateMinute DenyGate = "minute"
	GateHour   DenyGate = "hour"
	GateBucket DenyGate = "bucket"
)

// RateDecision é o resultado bruto de um check-and-consume no store.
type RateDecision struct {
	Allowed bool
	Gate    DenyGate
	// Tokens é o nível do bucket depois da operação (já com refill).
	Tokens float64
}

// Decision é o que o RateLimiter devolve para o middleware.
type Decision struct {
	Allowed bool
	Gate    DenyGate
	// RetryAfter é o tempo recomendado antes de tentar de novo quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// FailOpen marca decisões tomadas sem consultar o store (store fora do ar).
	FailOpen bool
}

// WaitSeconds expõe RetryAfter em segundos fracionários.
func (d Decision) WaitSeconds() float64 { return d.RetryAfter.Seconds() }

// RateUsage é a leitura (sem mutação) dos contadores de um provider.
type RateUsage struct {
	Minute int64
	Hour   int64
	Tokens float64
}

// ProviderHealth é o estado de falhas consecutivas de um provider.
type ProviderHealth struct {
	ConsecutiveFailures int64
	Backoff             time.Duration
}

// RateStore guarda contadores por janela, token bucket e saúde por provider.
//
// CheckAndConsume precisa ser atômico no nível do store: duas admissões
// concorrentes no mesmo provider nunca passam ambas além do limite.
type RateStore interface {
	CheckAndConsume(ctx context.Context, p Provider, lim Limits, now time.Time) (RateDecision, error)
	Usage(ctx context.Context, p Provider, lim Limits, now time.Time) (RateUsage, error)
	IncrFailures(ctx context.Context, p Provider) (int64, error)
	SetBackoff(ctx context.Context, p Provider, d time.Duration) error
	ResetHealth(ctx context.Context, p Provider) error
	Health(ctx context.Context, p Provider) (ProviderHealth, error)
}

// ProviderStatus é a visão de observabilidade de um provider.
type ProviderStatus struct {
	Provider            Provider `json:"provider"`
	MinuteUsage         int64    `json:"minute_usage"`
	HourUsage           int64    `json:"hour_usage"`
	MinuteLimit         int64    `json:"minute_limit"`
	HourLimit           int64    `json:"hour_limit"`
	Tokens              float64  `json:"tokens"`
	BucketCapacity      float64  `json:"bucket_capacity"`
	ConsecutiveFailures int64    `json:"consecutive_failures"`
	BackoffSeconds      float64  `json:"backoff_seconds"`
	QueueLength         int64    `json:"queue_length"`
}

// QueueStatus agrega fila, vagas e providers.
type QueueStatus struct {
	QueueLength  int64            `json:"queue_length"`
	MaxQueueSize int64            `json:"max_queue_size"`
	ActiveSlots  int              `json:"active_slots"`
	MaxSlots     int              `json:"max_slots"`
	Providers    []ProviderStatus `json:"providers"`
}
