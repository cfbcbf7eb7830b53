// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisRateStore / MemoryRateStore: janelas por minuto/hora + token bucket por provider
//   - RedisCacheStore / SQLiteCacheStore / MemoryCacheStore: key/value com TTL
//   - RedisQueueStore / MemoryQueueStore: fila de prioridade por score
//   - ChanPool: semáforo simples para limite de concorrência
//   - FuncExecutor / HTTPExecutor: executores de tarefa
package infra
