package domain

import (
	"context"
	"time"
)

// CacheStore é o key/value com TTL usado pelo ResponseCache (respostas) e,
// como responsabilidade secundária, por blobs de sessão e resultados de tarefas.
//
// Implementado em memória (dev/testes), Redis (produção) e SQLite (nó único).
// Get devolve ok=false para chave ausente ou expirada; Set sobrescreve e
// reinicia o TTL.
type CacheStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}
