package domain

import (
	"sort"
	"time"
)

// RequestDescriptor é o que os colaboradores de transporte/sessão entregam ao
// núcleo. É imutável depois de admitido e trafega por valor.
type RequestDescriptor struct {
	SessionID string         `json:"session_id"`
	Model     string         `json:"model"`
	Payload   string         `json:"payload"`
	Context   map[string]any `json:"context,omitempty"`
	// Credentials mapeia nome do provider → referência da credencial resolvida.
	// Só os nomes entram na chave de cache; os valores nunca.
	Credentials map[string]string `json:"credentials,omitempty"`
	Premium     bool              `json:"premium,omitempty"`
	ArrivedAt   time.Time         `json:"arrived_at"`
}

// Provider resolve o provider a partir do modelo.
func (r RequestDescriptor) Provider() Provider { return ResolveProvider(r.Model) }

// KeyMaterial extrai o subconjunto canônico usado para cache e deduplicação.
func (r RequestDescriptor) KeyMaterial() CacheKeyMaterial {
	names := make([]string, 0, len(r.Credentials))
	for name := range r.Credentials {
		names = append(names, name)
	}
	sort.Strings(names)
	return CacheKeyMaterial{
		Payload:       r.Payload,
		Model:         r.Model,
		Context:       r.Context,
		CredentialSet: names,
	}
}

// CacheKeyMaterial define a equivalência entre requisições.
// CredentialSet deve estar ordenado (KeyMaterial já garante isso).
type CacheKeyMaterial struct {
	Payload       string         `json:"payload"`
	Model         string         `json:"model"`
	Context       map[string]any `json:"context"`
	CredentialSet []string       `json:"credential_set"`
}

// ResponseDescriptor é o resultado devolvido pelo executor de tarefas.
type ResponseDescriptor struct {
	Content  string            `json:"content"`
	Model    string            `json:"model,omitempty"`
	Provider Provider          `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CacheEntry é a forma persistida de uma resposta em cache.
type CacheEntry struct {
	Response   ResponseDescriptor `json:"response"`
	CachedAt   time.Time          `json:"cachedAt"`
	TTLSeconds int64              `json:"ttlSeconds"`
}

// Expired indica se a entrada já passou do TTL em `now`.
func (e CacheEntry) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return !now.Before(e.CachedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}
