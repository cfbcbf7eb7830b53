package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Options configura o Middleware. Campos zerados recebem defaults em New.
type Options struct {
	Limiter  *RateLimiter
	Cache    *ResponseCache
	Queue    *PriorityQueue
	Slots    domain.SlotPool
	Executor domain.TaskExecutor
	Stats    domain.StatsStore

	// AcquireTimeout <= 0 espera por uma vaga até o ctx cancelar.
	AcquireTimeout time.Duration
	// MaxQueueSize é o limite de backpressure (padrão 1000).
	MaxQueueSize int64
	// ExecTimeout é o teto do caminho imediato (padrão 300s).
	ExecTimeout time.Duration
	// CacheTTL das respostas gravadas (padrão: TTL do ResponseCache).
	CacheTTL time.Duration
	// TaskTTL dos status de tarefas enfileiradas (padrão 1h).
	TaskTTL time.Duration

	Now    func() time.Time
	Logger *zap.Logger
}

// Middleware é o ponto único de admissão: rate limit → cache → backpressure →
// vaga de concorrência → execução imediata ou fila.
type Middleware struct {
	limiter  *RateLimiter
	cache    *ResponseCache
	queue    *PriorityQueue
	slots    ConcurrencyService
	executor domain.TaskExecutor
	stats    domain.StatsStore

	maxQueueSize int64
	execTimeout  time.Duration
	cacheTTL     time.Duration
	taskTTL      time.Duration

	now    func() time.Time
	logger *zap.Logger

	// kick acorda o Drainer depois de um enqueue.
	kick func()
}

func New(opts Options) *Middleware {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 1000
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 300 * time.Second
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Queue != nil && opts.Queue.MaxSize <= 0 {
		opts.Queue.MaxSize = opts.MaxQueueSize
	}

	return &Middleware{
		limiter:      opts.Limiter,
		cache:        opts.Cache,
		queue:        opts.Queue,
		slots:        ConcurrencyService{Pool: opts.Slots, AcquireTimeout: opts.AcquireTimeout},
		executor:     opts.Executor,
		stats:        opts.Stats,
		maxQueueSize: opts.MaxQueueSize,
		execTimeout:  opts.ExecTimeout,
		cacheTTL:     opts.CacheTTL,
		taskTTL:      opts.TaskTTL,
		now:          opts.Now,
		logger:       opts.Logger,
		kick:         func() {},
	}
}

// Admit decide o destino de uma requisição. Nunca retorna erro nem propaga
// falhas de store: todo caminho termina num domain.Outcome.
func (m *Middleware) Admit(ctx context.Context, req domain.RequestDescriptor, useCache, useQueue bool) domain.Outcome {
	if req.ArrivedAt.IsZero() {
		req.ArrivedAt = m.now().UTC()
	}
	p := req.Provider()

	out := m.admit(ctx, req, p, useCache, useQueue)
	m.record(ctx, req, out)
	return out
}

func (m *Middleware) admit(ctx context.Context, req domain.RequestDescriptor, p domain.Provider, useCache, useQueue bool) domain.Outcome {
	// 1) rate limit
	dec := m.limiter.CheckAndConsume(ctx, p)
	if !dec.Allowed {
		out := domain.Rejected(p, domain.ReasonRateLimited,
			fmt.Sprintf("provider %s rate limited (%s); retry in %.1fs", p, dec.Gate, dec.WaitSeconds()))
		out.WaitSeconds = dec.WaitSeconds()
		return out
	}

	// 2) cache
	var key string
	if useCache && m.cache != nil {
		key = m.cache.Fingerprint(req.KeyMaterial())
		if entry, ok := m.cache.GetKey(ctx, key); ok {
			return domain.Immediate(p, entry.Response, true)
		}
	}

	queueing := useQueue && m.queue != nil

	// 3) backpressure
	var backlog int64
	if queueing {
		n, err := m.queue.Length(ctx)
		if err != nil {
			m.logger.Warn("queue store unavailable, assuming empty", zap.Error(err))
		} else {
			backlog = n
		}
		if backlog >= m.maxQueueSize {
			return domain.Rejected(p, domain.ReasonQueueFull,
				fmt.Sprintf("queue is full (%d/%d); back off and retry later", backlog, m.maxQueueSize))
		}
	}

	// 4) vaga de concorrência: quem segura a vaga é o produtor da chamada,
	// não o chamador que espera pelo resultado
	acquire := m.acquireSlot
	if queueing {
		r, ok := m.slots.TryAcquire()
		if !ok {
			return m.enqueue(ctx, req, p, useCache)
		}
		// 5a) já existe backlog: respeita a ordem da fila
		if backlog > 0 {
			r()
			return m.enqueue(ctx, req, p, useCache)
		}
		var giveBack func()
		acquire, giveBack = m.handoff(r)
		defer giveBack()
	}

	// 5b) execução imediata
	res, err := m.execute(ctx, req, p, key, acquire)
	if err != nil {
		return m.rejectFor(p, err)
	}
	return domain.Immediate(p, res.Response, res.Cached)
}

func (m *Middleware) enqueue(ctx context.Context, req domain.RequestDescriptor, p domain.Provider, useCache bool) domain.Outcome {
	item, err := m.queue.Enqueue(ctx, req, useCache)
	if errors.Is(err, domain.ErrQueueFull) {
		return domain.Rejected(p, domain.ReasonQueueFull,
			fmt.Sprintf("queue is full (max %d); back off and retry later", m.maxQueueSize))
	}
	if err != nil {
		m.logger.Warn("enqueue failed", zap.String("provider", p.String()), zap.Error(err))
		return domain.Rejected(p, domain.ReasonStoreUnavailable, "queue store unavailable")
	}

	m.putTaskStatus(ctx, domain.TaskStatus{TaskID: item.TaskID, State: domain.TaskPending})
	m.kick()
	return domain.Queued(p, item.TaskID)
}

// slotAcquirer obtém a vaga para uma chamada ao provider.
type slotAcquirer func(ctx context.Context) (release func(), err error)

// acquireSlot espera por uma vaga (até AcquireTimeout ou o ctx encerrar).
func (m *Middleware) acquireSlot(ctx context.Context) (func(), error) {
	release, ok := m.slots.Acquire(ctx)
	if ok {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: while waiting for an admission slot", domain.ErrCancelled)
	}
	return nil, fmt.Errorf("%w: no admission slot within %s", domain.ErrTimeout, m.slots.AcquireTimeout)
}

// handoff entrega ao produtor uma vaga já adquirida. giveBack devolve a vaga
// ao pool se nenhum produtor a tomou (a chave já estava em voo); um produtor
// que chegue depois do giveBack espera por outra vaga.
func (m *Middleware) handoff(release func()) (acquire slotAcquirer, giveBack func()) {
	var state atomic.Int32 // 0 livre, 1 com o produtor, 2 devolvida
	acquire = func(ctx context.Context) (func(), error) {
		if state.CompareAndSwap(0, 1) {
			return release, nil
		}
		return m.acquireSlot(ctx)
	}
	giveBack = func() {
		if state.CompareAndSwap(0, 2) {
			release()
		}
	}
	return acquire, giveBack
}

// execute roda a chamada ao provider sob uma vaga. Com key != "" chamadas
// idênticas compartilham uma única execução (e uma única vaga), e o cache é
// consultado de novo depois da vaga obtida.
func (m *Middleware) execute(ctx context.Context, req domain.RequestDescriptor, p domain.Provider, key string, acquire slotAcquirer) (Produced, error) {
	produce := func(pctx context.Context) (Produced, error) {
		release, err := acquire(pctx)
		if err != nil {
			return Produced{}, err
		}
		if key != "" {
			if entry, ok := m.cache.GetKey(pctx, key); ok {
				release()
				return Produced{Response: entry.Response, Cached: true}, nil
			}
		}
		resp, err := m.run(pctx, req, p, key, release)
		return Produced{Response: resp}, err
	}

	if key == "" {
		return produce(ctx)
	}
	out, err := m.cache.Deduplicate(ctx, key, produce)
	if out.Shared {
		m.logger.Debug("deduplicated in-flight request", zap.String("key", key))
	}
	return out, err
}

// run chama o executor com o teto de tempo e faz a contabilidade:
// sucesso → RecordSuccess + cache; falha/timeout → RecordFailure.
// Cancelamento não marca o provider como falho. run é dono de release: a vaga
// só volta ao pool quando a chamada ao provider termina de fato.
func (m *Middleware) run(ctx context.Context, req domain.RequestDescriptor, p domain.Provider, key string, release func()) (domain.ResponseDescriptor, error) {
	if m.executor == nil {
		release()
		return domain.ResponseDescriptor{}, fmt.Errorf("%w: no task executor configured", domain.ErrExecution)
	}

	tctx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	task, err := m.executor.Submit(tctx, req)
	if err != nil {
		release()
		m.limiter.RecordFailure(ctx, p)
		return domain.ResponseDescriptor{}, fmt.Errorf("%w: submit: %v", domain.ErrExecution, err)
	}
	defer releaseAfter(task, release)

	resp, err := task.Wait(tctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return domain.ResponseDescriptor{}, domain.ErrCancelled
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			d := m.limiter.RecordFailure(ctx, p)
			m.logger.Warn("task timed out",
				zap.String("provider", p.String()), zap.String("task", task.ID),
				zap.Duration("timeout", m.execTimeout), zap.Duration("backoff", d))
			return domain.ResponseDescriptor{}, fmt.Errorf("%w: no result within %s", domain.ErrTimeout, m.execTimeout)
		default:
			d := m.limiter.RecordFailure(ctx, p)
			m.logger.Warn("task failed",
				zap.String("provider", p.String()), zap.String("task", task.ID),
				zap.Duration("backoff", d), zap.Error(err))
			return domain.ResponseDescriptor{}, fmt.Errorf("%w: %v", domain.ErrExecution, err)
		}
	}

	m.limiter.RecordSuccess(ctx, p)
	if resp.Provider == "" {
		resp.Provider = p
	}
	if key != "" {
		if err := m.cache.SetKey(ctx, key, resp, m.cacheTTL); err != nil {
			m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return resp, nil
}

// releaseAfter devolve a vaga quando a tarefa terminar; cancelamento e timeout
// liberam o chamador antes disso.
func releaseAfter(task *domain.Task, release func()) {
	select {
	case <-task.Done():
		release()
	default:
		go func() {
			<-task.Done()
			release()
		}()
	}
}

func (m *Middleware) rejectFor(p domain.Provider, err error) domain.Outcome {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return domain.Rejected(p, domain.ReasonTimeout, err.Error())
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.Rejected(p, domain.ReasonCancelled, "request cancelled by caller")
	default:
		return domain.Rejected(p, domain.ReasonExecutionError, err.Error())
	}
}

func (m *Middleware) record(ctx context.Context, req domain.RequestDescriptor, out domain.Outcome) {
	m.logger.Debug("admission outcome",
		zap.String("outcome", string(out.Kind)),
		zap.String("reason", string(out.Reason)),
		zap.String("provider", out.Provider.String()),
		zap.String("session", req.SessionID),
		zap.Bool("cached", out.Cached),
	)
	if m.stats == nil {
		return
	}
	err := m.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Provider: out.Provider,
		Kind:     out.Kind,
		Reason:   out.Reason,
		Cached:   out.Cached,
		Model:    req.Model,
		At:       m.now(),
	})
	if err != nil {
		m.logger.Debug("stats record failed", zap.Error(err))
	}
}

func (m *Middleware) putTaskStatus(ctx context.Context, st domain.TaskStatus) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := m.cache.PutWithTTL(context.WithoutCancel(ctx), TaskKey(st.TaskID), raw, m.taskTTL); err != nil {
		m.logger.Warn("task status write failed", zap.String("task", st.TaskID), zap.Error(err))
	}
}

// TaskStatus consulta o estado de uma tarefa enfileirada.
func (m *Middleware) TaskStatus(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	raw, ok, err := m.cache.GetBlob(ctx, TaskKey(taskID))
	if err != nil {
		return domain.TaskStatus{}, err
	}
	if !ok {
		return domain.TaskStatus{}, domain.ErrTaskNotFound
	}
	var st domain.TaskStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.TaskStatus{}, fmt.Errorf("decode task status: %w", err)
	}
	return st, nil
}

// GetQueueStatus é a visão de observabilidade: fila, vagas e providers.
func (m *Middleware) GetQueueStatus(ctx context.Context) domain.QueueStatus {
	var qlen int64
	if m.queue != nil {
		n, err := m.queue.Length(ctx)
		if err != nil {
			m.logger.Warn("queue length unavailable", zap.Error(err))
		} else {
			qlen = n
		}
	}

	st := domain.QueueStatus{
		QueueLength:  qlen,
		MaxQueueSize: m.maxQueueSize,
		ActiveSlots:  m.slots.InUse(),
		MaxSlots:     m.slots.Cap(),
	}
	for _, p := range domain.Providers() {
		st.Providers = append(st.Providers, m.limiter.GetStatus(ctx, p, qlen))
	}
	return st
}
