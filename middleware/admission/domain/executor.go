package domain

import (
	"context"
	"sync"
)

// TaskExecutor é o colaborador externo que de fato chama o provider.
// Submit não bloqueia esperando o resultado: devolve um Task (future).
type TaskExecutor interface {
	Submit(ctx context.Context, req RequestDescriptor) (*Task, error)
}

// Task é o future de uma execução, identificado por ID.
type Task struct {
	ID string

	once sync.Once
	done chan struct{}
	resp ResponseDescriptor
	err  error
}

func NewTask(id string) *Task {
	return &Task{ID: id, done: make(chan struct{})}
}

// Complete resolve o future. Chamadas repetidas são ignoradas.
func (t *Task) Complete(resp ResponseDescriptor, err error) {
	t.once.Do(func() {
		t.resp, t.err = resp, err
		close(t.done)
	})
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Wait bloqueia até a tarefa terminar ou o ctx encerrar.
func (t *Task) Wait(ctx context.Context) (ResponseDescriptor, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return ResponseDescriptor{}, ctx.Err()
	}
}

// TaskState é o que fica registrado para consulta de tarefas enfileiradas.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

type TaskStatus struct {
	TaskID   string              `json:"task_id"`
	State    TaskState           `json:"state"`
	Response *ResponseDescriptor `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
}
