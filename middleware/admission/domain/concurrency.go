package domain

import "context"

// SlotPool representa a capacidade finita de chamadas simultâneas a providers
// neste processo.
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// TryAcquire nunca bloqueia. Ao adquirir, retorna uma função de release que
// deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	TryAcquire() (release func(), ok bool)
	InUse() int
	Cap() int
}
