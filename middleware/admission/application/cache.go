package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fingerprintLen é o prefixo hex do sha256 usado na chave.
const fingerprintLen = 16

// ResponseCache evita chamadas repetidas ao provider para requisições
// equivalentes e deduplica requisições idênticas em voo.
//
// Leitura com store fora do ar é fail-closed: vira miss.
// Use sempre por ponteiro (contém um singleflight.Group).
type ResponseCache struct {
	Store  domain.CacheStore
	Prefix string
	TTL    time.Duration

	Now    func() time.Time
	Logger *zap.Logger

	inflight singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight é uma execução em voo para uma chave e os chamadores que esperam por ela.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type flightResult struct {
	Produced
	from *flight
}

// NewResponseCache aplica os defaults: prefixo "llm_response:" e TTL de 1h.
func NewResponseCache(store domain.CacheStore, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{Store: store, Prefix: "llm_response:", TTL: ttl, Logger: logger}
}

func (c *ResponseCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *ResponseCache) log() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Fingerprint serializa o material com chaves de mapa ordenadas e devolve
// prefixo + sha256 truncado. Requisições logicamente idênticas sempre
// geram a mesma chave.
func (c *ResponseCache) Fingerprint(m domain.CacheKeyMaterial) string {
	return c.Prefix + Fingerprint(m)
}

// Fingerprint sem namespace.
func Fingerprint(m domain.CacheKeyMaterial) string {
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	creds := append([]string{}, m.CredentialSet...)
	sort.Strings(creds)
	m.CredentialSet = creds

	// go-json ordena as chaves de map (inclusive aninhados), igual ao encoding/json
	raw, err := json.Marshal(m)
	if err != nil {
		// valores não serializáveis no contexto: cai para a representação %v,
		// que também ordena chaves de map
		raw = []byte(fmt.Sprintf("%v|%v|%v|%v", m.Payload, m.Model, m.Context, m.CredentialSet))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Get devolve a entrada se existir e não estiver vencida.
func (c *ResponseCache) Get(ctx context.Context, m domain.CacheKeyMaterial) (*domain.CacheEntry, bool) {
	return c.GetKey(ctx, c.Fingerprint(m))
}

func (c *ResponseCache) GetKey(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	if c == nil || c.Store == nil {
		return nil, false
	}
	raw, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		c.log().Warn("cache store unavailable, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log().Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if entry.Expired(c.now()) {
		return nil, false
	}
	return &entry, true
}

// Set sobrescreve qualquer entrada anterior e reinicia o TTL (ttl <= 0 usa c.TTL).
func (c *ResponseCache) Set(ctx context.Context, m domain.CacheKeyMaterial, resp domain.ResponseDescriptor, ttl time.Duration) error {
	return c.SetKey(ctx, c.Fingerprint(m), resp, ttl)
}

func (c *ResponseCache) SetKey(ctx context.Context, key string, resp domain.ResponseDescriptor, ttl time.Duration) error {
	if c == nil || c.Store == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.TTL
	}
	raw, err := json.Marshal(domain.CacheEntry{
		Response:   resp,
		CachedAt:   c.now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.Store.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Produced é o resultado entregue a todos os chamadores de uma chave.
type Produced struct {
	Response domain.ResponseDescriptor
	// Cached indica que o produtor achou a resposta no cache.
	Cached bool
	// Shared indica que este chamador pegou carona na execução de outro.
	Shared bool
}

// Producer calcula a resposta para uma chave.
type Producer func(ctx context.Context) (Produced, error)

// Deduplicate garante que, para a mesma chave, só um produtor rode por vez:
// os demais chamadores esperam e recebem o mesmo resultado (ou o mesmo erro).
// A chave sai do mapa de voo assim que o produtor termina; erro não é cacheado.
//
// O ctx do produtor não segue o cancelamento de um chamador isolado; ele só é
// cancelado quando todos os chamadores daquela chave desistiram.
func (c *ResponseCache) Deduplicate(ctx context.Context, key string, produce Producer) (Produced, error) {
	f := c.join(ctx, key)
	defer c.leave(key, f)

	for {
		ch := c.inflight.DoChan(key, func() (any, error) {
			out, err := produce(f.ctx)
			return flightResult{Produced: out, from: f}, err
		})
		select {
		case res := <-ch:
			fr, _ := res.Val.(flightResult)
			// voo abandonado por outros chamadores: este ainda quer o resultado
			if res.Err != nil && fr.from != nil && fr.from != f && errors.Is(fr.from.ctx.Err(), context.Canceled) && ctx.Err() == nil {
				continue
			}
			out := fr.Produced
			out.Shared = res.Shared
			return out, res.Err
		case <-ctx.Done():
			return Produced{}, ctx.Err()
		}
	}
}

func (c *ResponseCache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f := c.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *ResponseCache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// PutWithTTL grava um blob opaco (sessões, status de tarefas).
func (c *ResponseCache) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.Store == nil {
		return nil
	}
	if err := c.Store.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *ResponseCache) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil || c.Store == nil {
		return nil, false, nil
	}
	v, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return v, ok, nil
}

// SessionKey é o namespace dos blobs de sessão.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// TaskKey é o namespace dos status de tarefas enfileiradas.
func TaskKey(taskID string) string { return "task:" + taskID }
