package domain

import (
	"context"
	"time"
)

// StatsEvent representa o resultado terminal de uma admissão.
//
// Observação: cuidado com cardinalidade (ex.: salvar Session/Model sem controle
// pode explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Provider Provider
	Kind     OutcomeKind
	Reason   Reason
	Cached   bool
	Model    string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware trata erro como best-effort (não derruba a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
