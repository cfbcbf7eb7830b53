package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited      = errors.New("admission: rate limited")
	ErrQueueFull        = errors.New("admission: queue full")
	ErrExecution        = errors.New("admission: execution error")
	ErrTimeout          = errors.New("admission: timeout")
	ErrStoreUnavailable = errors.New("admission: store unavailable")
	ErrCancelled        = errors.New("admission: cancelled")
	ErrTaskNotFound     = errors.New("admission: task not found")
)

// Reason é o código estável (máquina) de uma rejeição.
type Reason string

const (
	ReasonRateLimited      Reason = "rate_limited"
	ReasonQueueFull        Reason = "queue_full"
	ReasonExecutionError   Reason = "execution_error"
	ReasonTimeout          Reason = "timeout"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonCancelled        Reason = "cancelled"
)

// Sentinel devolve o erro sentinela associado ao código.
func (r Reason) Sentinel() error {
	switch r {
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonQueueFull:
		return ErrQueueFull
	case ReasonExecutionError:
		return ErrExecution
	case ReasonTimeout:
		return ErrTimeout
	case ReasonStoreUnavailable:
		return ErrStoreUnavailable
	case ReasonCancelled:
		return ErrCancelled
	}
	return ErrExecution
}

// OutcomeKind é o estado terminal de uma admissão.
type OutcomeKind string

const (
	OutcomeImmediate OutcomeKind = "immediate"
	OutcomeQueued    OutcomeKind = "queued"
	OutcomeRejected  OutcomeKind = "rejected"
)

// Outcome é sempre devolvido por Admit; nunca há panic nem erro de store cru.
type Outcome struct {
	Kind     OutcomeKind         `json:"kind"`
	Response *ResponseDescriptor `json:"response,omitempty"`
	Cached   bool                `json:"cached,omitempty"`
	TaskID   string              `json:"task_id,omitempty"`
	Reason   Reason              `json:"reason,omitempty"`
	Message  string              `json:"message,omitempty"`
	// WaitSeconds só é preenchido para rate_limited.
	WaitSeconds float64  `json:"wait_seconds,omitempty"`
	Provider    Provider `json:"provider"`
}

func Immediate(p Provider, resp ResponseDescriptor, cached bool) Outcome {
	return Outcome{Kind: OutcomeImmediate, Provider: p, Response: &resp, Cached: cached}
}

func Queued(p Provider, taskID string) Outcome {
	return Outcome{Kind: OutcomeQueued, Provider: p, TaskID: taskID}
}

func Rejected(p Provider, reason Reason, msg string) Outcome {
	return Outcome{Kind: OutcomeRejected, Provider: p, Reason: reason, Message: msg}
}

// Err devolve nil para resultados não rejeitados; caso contrário o sentinela
// do código embrulhado com a mensagem.
func (o Outcome) Err() error {
	if o.Kind != OutcomeRejected {
		return nil
	}
	if o.Message == "" {
		return o.Reason.Sentinel()
	}
	return fmt.Errorf("%w: %s", o.Reason.Sentinel(), o.Message)
}
