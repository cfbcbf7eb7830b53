// Package domain define contratos e tipos de domínio da camada de admissão:
// providers, descritores de requisição/resposta, resultados de admissão e as
// interfaces dos stores (rate limit, cache, fila, estatísticas).
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, SQLite, memória).
package domain
