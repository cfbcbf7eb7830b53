package application

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"go.uber.org/zap"
)

// Drainer consome a fila de prioridade: a cada vaga livre tira o item de
// maior prioridade, executa pelo mesmo caminho do Middleware (timeout,
// cache, saúde do provider) e registra o status da tarefa.
//
// Com vários processos compartilhando a fila, PollEvery garante que itens
// enfileirados por outros processos também sejam vistos.
type Drainer struct {
	m         *Middleware
	pollEvery time.Duration

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewDrainer liga o Drainer ao Middleware: cada enqueue passa a acordá-lo.
func NewDrainer(m *Middleware, pollEvery time.Duration) *Drainer {
	d := &Drainer{m: m, pollEvery: pollEvery, wake: make(chan struct{}, 1)}
	m.kick = d.Kick
	return d
}

// Kick nunca bloqueia; sinais repetidos se fundem num só.
func (d *Drainer) Kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drena até o ctx encerrar e então espera as execuções em andamento.
func (d *Drainer) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d.pollEvery > 0 {
		t := time.NewTicker(d.pollEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		for d.drainOne(ctx) {
		}
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-d.wake:
		case <-tick:
		}
	}
}

func (d *Drainer) drainOne(ctx context.Context) bool {
	m := d.m
	if m.queue == nil {
		return false
	}

	release, ok := m.slots.Acquire(ctx)
	if !ok {
		return false
	}
	item, err := m.queue.DequeueHighest(ctx)
	if err != nil {
		m.logger.Warn("dequeue failed", zap.Error(err))
		release()
		return false
	}
	if item == nil {
		release()
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(context.WithoutCancel(ctx), *item, release)
	}()
	return true
}

// process é dono de release: a vaga segue para a execução e só volta ao pool
// quando a chamada ao provider termina.
func (d *Drainer) process(ctx context.Context, item domain.QueueItem, release func()) {
	m := d.m
	req := item.Request
	p := req.Provider()

	acquire, giveBack := m.handoff(release)
	defer giveBack()

	m.putTaskStatus(ctx, domain.TaskStatus{TaskID: item.TaskID, State: domain.TaskRunning})

	var key string
	if item.UseCache && m.cache != nil {
		key = m.cache.Fingerprint(req.KeyMaterial())
	}

	res, err := m.execute(ctx, req, p, key, acquire)
	if err != nil {
		m.logger.Warn("queued task failed",
			zap.String("task", item.TaskID), zap.String("provider", p.String()), zap.Error(err))
		m.putTaskStatus(ctx, domain.TaskStatus{TaskID: item.TaskID, State: domain.TaskFailed, Error: err.Error()})
		return
	}
	m.logger.Debug("queued task done",
		zap.String("task", item.TaskID), zap.Int("priority", item.Priority),
		zap.Bool("cached", res.Cached), zap.Bool("shared", res.Shared),
		zap.Duration("waited", m.now().Sub(item.EnqueuedAt)))
	resp := res.Response
	m.putTaskStatus(ctx, domain.TaskStatus{TaskID: item.TaskID, State: domain.TaskSucceeded, Response: &resp})
}
