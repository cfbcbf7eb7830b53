package application

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
)

// Pesos da heurística de prioridade.
const (
	premiumBoost = 10
	urgentBoost  = 5
	shortBoost   = 2
)

var defaultUrgencyTerms = []string{"urgent", "emergency"}

// PriorityQueue guarda requisições que não puderam ser admitidas na hora.
//
// Ordem: maior prioridade primeiro; empate → chegada anterior primeiro
// (ver domain.QueueScore).
type PriorityQueue struct {
	Store domain.QueueStore
	// MaxSize limita o Enqueue atomicamente no store (0 = sem limite).
	MaxSize int64
	// ShortThreshold em caracteres (padrão 100).
	ShortThreshold int
	UrgencyTerms   []string

	Now func() time.Time
}

func (q *PriorityQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// PriorityOf: 0 base; +10 premium; +2 payload curto; +5 se contém termo de urgência.
func (q *PriorityQueue) PriorityOf(req domain.RequestDescriptor) int {
	threshold := q.ShortThreshold
	if threshold <= 0 {
		threshold = 100
	}
	terms := q.UrgencyTerms
	if len(terms) == 0 {
		terms = defaultUrgencyTerms
	}

	p := 0
	if req.Premium {
		p += premiumBoost
	}
	if utf8.RuneCountInString(req.Payload) < threshold {
		p += shortBoost
	}
	lower := strings.ToLower(req.Payload)
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			p += urgentBoost
			break
		}
	}
	return p
}

// Enqueue calcula a prioridade e persiste o item com um task id novo.
// Devolve domain.ErrQueueFull se MaxSize já foi atingido.
func (q *PriorityQueue) Enqueue(ctx context.Context, req domain.RequestDescriptor, useCache bool) (domain.QueueItem, error) {
	return q.Store.Push(ctx, domain.QueueItem{
		TaskID:     uuid.NewString(),
		Request:    req,
		Priority:   q.PriorityOf(req),
		UseCache:   useCache,
		EnqueuedAt: q.now().UTC(),
	}, q.MaxSize)
}

// DequeueHighest remove e devolve o item de maior prioridade; nil se vazia.
func (q *PriorityQueue) DequeueHighest(ctx context.Context) (*domain.QueueItem, error) {
	return q.Store.PopMin(ctx)
}

func (q *PriorityQueue) Length(ctx context.Context) (int64, error) {
	return q.Store.Len(ctx)
}
