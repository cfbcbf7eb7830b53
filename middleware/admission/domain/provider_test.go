package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProvider(t *testing.T) {
	cases := map[string]Provider{
		"groq/llama-3.1-8b-instant":   ProviderGroq,
		"openai/gpt-4o":               ProviderOpenAI,
		"anthropic/claude-3.5-sonnet": ProviderOpenRouter,
		"gemini:gemini-pro":           ProviderGemini,
		"gemini-1.5-flash":            ProviderGemini,
		"GPT-4o-mini":                 ProviderOpenAI,
		"o3-mini":                     ProviderOpenAI,
		"text-embedding-3-small":      ProviderOpenAI,
		"llama-3.3-70b-versatile":     ProviderGroq,
		"mixtral-8x7b":                ProviderGroq,
		"some-unknown-model":          DefaultProvider,
		"":                            DefaultProvider,
	}
	for model, want := range cases {
		assert.Equal(t, want, ResolveProvider(model), "model %q", model)
	}
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider(" Groq ")
	require.True(t, ok)
	assert.Equal(t, ProviderGroq, p)

	_, ok = ParseProvider("anthropic")
	assert.False(t, ok)
}

func TestQueueScore_PriorityBeatsArrival(t *testing.T) {
	// prioridade alta chegando depois ainda sai antes
	assert.Less(t, QueueScore(10, 500), QueueScore(0, 1))
	// mesma prioridade: chegada anterior primeiro
	assert.Less(t, QueueScore(5, 1), QueueScore(5, 2))
	// fora da faixa é limitado
	assert.Equal(t, QueueScore(MaxPriority, 7), QueueScore(5000, 7))
	assert.Equal(t, QueueScore(0, 7), QueueScore(-3, 7))
}

func TestKeyMaterial_SortsCredentialNames(t *testing.T) {
	req := RequestDescriptor{
		Model:       "gpt-4o",
		Payload:     "hi",
		Credentials: map[string]string{"openai": "sk-1", "groq": "gsk-2", "gemini": "g-3"},
	}
	km := req.KeyMaterial()
	assert.Equal(t, []string{"gemini", "groq", "openai"}, km.CredentialSet)
	assert.Equal(t, ProviderOpenAI, req.Provider())
}

func TestCacheEntry_Expired(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := CacheEntry{CachedAt: at, TTLSeconds: 60}

	assert.False(t, e.Expired(at.Add(59*time.Second)))
	assert.True(t, e.Expired(at.Add(60*time.Second)))
	assert.False(t, CacheEntry{CachedAt: at}.Expired(at.Add(24*time.Hour)))
}

func TestOutcome_Err(t *testing.T) {
	assert.NoError(t, Immediate(ProviderGroq, ResponseDescriptor{Content: "x"}, false).Err())
	assert.NoError(t, Queued(ProviderGroq, "t1").Err())

	err := Rejected(ProviderGroq, ReasonQueueFull, "queue is full").Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Contains(t, err.Error(), "queue is full")

	assert.ErrorIs(t, Rejected(ProviderGemini, ReasonTimeout, "").Err(), ErrTimeout)
}

func TestLimits_WithDefaults(t *testing.T) {
	l := Limits{RequestsPerMinute: 5}.WithDefaults()
	assert.Equal(t, int64(5), l.RequestsPerMinute)
	assert.Equal(t, int64(1000), l.RequestsPerHour)
	assert.Equal(t, 10.0, l.BucketCapacity)
	assert.Equal(t, 1.0, l.RefillPerSecond)
}
