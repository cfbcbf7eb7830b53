package domain

import (
	"context"
	"time"
)

// QueueItem embrulha uma requisição adiada. O Score é atribuído pelo store no
// enqueue; menor score sai primeiro.
type QueueItem struct {
	TaskID     string            `json:"task_id"`
	Request    RequestDescriptor `json:"request"`
	Priority   int               `json:"priority"`
	UseCache   bool              `json:"use_cache,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Seq        int64             `json:"-"`
	Score      float64           `json:"-"`
}

// QueueStore é a estrutura ordenada e persistente por trás da PriorityQueue.
//
// Push deve ser atômico: confere o limite (maxLen > 0), atribui a sequência de
// chegada, calcula o score e persiste o item numa única operação. Fila cheia
// devolve ErrQueueFull sem mutar nada. PopMin remove e devolve o item de menor
// score, ou (nil, nil) se a fila estiver vazia, sem bloquear.
type QueueStore interface {
	Push(ctx context.Context, item QueueItem, maxLen int64) (QueueItem, error)
	PopMin(ctx context.Context) (*QueueItem, error)
	Len(ctx context.Context) (int64, error)
}

// MaxPriority limita a prioridade para manter o score exato em float64.
const MaxPriority = 999

// ScoreSpan separa faixas de prioridade no score. Sequências de chegada
// precisam ficar abaixo desse valor.
const ScoreSpan = 1e12

// QueueScore combina prioridade e ordem de chegada: prioridade maior sempre
// gera score menor; dentro da mesma prioridade, chegada anterior vence.
func QueueScore(priority int, seq int64) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return -float64(priority)*ScoreSpan + float64(seq)
}
