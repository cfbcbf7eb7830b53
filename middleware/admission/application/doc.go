// Package application contém os casos de uso da camada de admissão:
// rate limit por provider, cache de respostas com deduplicação, fila de
// prioridade, limite de concorrência e o Middleware que amarra tudo numa
// única decisão por requisição.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: Middleware.Admit(ctx, req, useCache, useQueue) sempre retorna um
// domain.Outcome (imediato, enfileirado ou rejeitado).
package application
