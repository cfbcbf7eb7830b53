// Package admission fornece o adapter HTTP (net/http) da camada de admissão de
// chamadas a providers de LLM.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (rate limit, cache, fila, Admit) sem net/http
//   - infra: implementações concretas (Redis, SQLite, memória, executores)
//   - admission (este pacote): handlers HTTP + extração da sessão + tradução
//     do Outcome para status/headers
//
// Fluxo no gateway:
//
//  1. Decodifica o RequestDescriptor do corpo (sessão cai para header/IP)
//  2. Chama application.Middleware.Admit
//  3. Imediato → 200, enfileirado → 202, rejeitado → 429/503/502/504/499
//  4. Status da fila em GET /v1/status e de tarefas em GET /v1/tasks/{id}
//
// Variáveis de ambiente do binário gateway (cmd/gateway) sobrescrevem o arquivo
// de configuração, como REDIS_ADDR, CONCURRENCY_MAX, MAX_QUEUE_SIZE e EXECUTION_TIMEOUT.
package admission
