package domain

import "strings"

// Provider identifica um backend de LLM externo. O conjunto é fechado:
// qualquer modelo desconhecido cai em DefaultProvider.
type Provider string

const (
	ProviderGroq       Provider = "groq"
	ProviderGemini     Provider = "gemini"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
)

// DefaultProvider é o destino de último recurso para modelos não mapeados.
const DefaultProvider = ProviderOpenRouter

// Providers lista todas as variantes conhecidas, em ordem estável.
func Providers() []Provider {
	return []Provider{ProviderGroq, ProviderGemini, ProviderOpenAI, ProviderOpenRouter}
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderGroq, ProviderGemini, ProviderOpenAI, ProviderOpenRouter:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }

// ParseProvider converte um nome livre (config, header) em Provider.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// regras por substring, avaliadas em ordem depois do prefixo explícito "<provider>/".
var modelRules = []struct {
	match    func(string) bool
	provider Provider
}{
	{func(m string) bool { return strings.Contains(m, "gemini") }, ProviderGemini},
	{func(m string) bool {
		return strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "o1") ||
			strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") ||
			strings.HasPrefix(m, "text-embedding") || strings.HasPrefix(m, "chatgpt")
	}, ProviderOpenAI},
	{func(m string) bool {
		return strings.HasPrefix(m, "llama") || strings.HasPrefix(m, "mixtral") ||
			strings.HasPrefix(m, "gemma") || strings.HasPrefix(m, "qwen") ||
			strings.HasPrefix(m, "deepseek-r1-distill")
	}, ProviderGroq},
}

// ResolveProvider mapeia um identificador de modelo para o seu provider.
//
// É total e sem efeitos colaterais:
//   - "groq/llama-3.1-8b" → groq (prefixo explícito)
//   - "gemini-1.5-flash" → gemini, "gpt-4o" → openai, "llama-3.3-70b" → groq
//   - "anthropic/claude-3.5-sonnet" (vendor/model sem prefixo conhecido) → openrouter
//   - qualquer outra coisa → DefaultProvider
func ResolveProvider(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	if tag, _, ok := strings.Cut(m, "/"); ok {
		if p := Provider(tag); p.Valid() {
			return p
		}
		return ProviderOpenRouter
	}
	if tag, _, ok := strings.Cut(m, ":"); ok {
		if p := Provider(tag); p.Valid() {
			return p
		}
	}
	for _, r := range modelRules {
		if r.match(m) {
			return r.provider
		}
	}
	return DefaultProvider
}
