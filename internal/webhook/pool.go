package webhook

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/pipeline"
	"github.com/open-apime/autoreply/internal/pkg/queue"
	"github.com/open-apime/autoreply/internal/storage/model"
)

const (
	dequeueTimeout = time.Second
	requeueTimeout = 5 * time.Second
)

type EventProcessor interface {
	Handle(ctx context.Context, event model.InboundEvent) pipeline.Result
}

// Pool consome a fila de webhooks e entrega cada mensagem ao EventProcessor.
type Pool struct {
	queue         queue.Queue
	processor     EventProcessor
	log           *zap.Logger
	handleTimeout time.Duration

	numWorkers int
	taskChan   chan *queue.Event
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewPool(q queue.Queue, processor EventProcessor, log *zap.Logger, numWorkers int, handleTimeout time.Duration) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if handleTimeout <= 0 {
		handleTimeout = 5 * time.Minute
	}

	return &Pool{
		queue:         q,
		processor:     processor,
		log:           log,
		handleTimeout: handleTimeout,
		numWorkers:    numWorkers,
		taskChan:      make(chan *queue.Event, numWorkers*2),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info("webhook pool: iniciando", zap.Int("workers", p.numWorkers))

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	p.wg.Add(1)
	go p.runDispatcher()

	p.log.Info("webhook pool: iniciada com sucesso")
}

// Stop cancela os workers e devolve à fila os eventos já retirados dela que
// nenhum worker chegou a processar.
func (p *Pool) Stop() {
	p.log.Info("webhook pool: encerrando")
	p.cancel()
	p.wg.Wait()

	for {
		select {
		case event := <-p.taskChan:
			p.requeue(event)
		default:
			p.log.Info("webhook pool: encerrada")
			return
		}
	}
}

func (p *Pool) runDispatcher() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		event, err := p.queue.Dequeue(p.ctx, dequeueTimeout)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Error("webhook pool: erro ao desenfileirar", zap.Error(err))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(dequeueTimeout):
			}
			continue
		}
		if event == nil {
			continue
		}

		select {
		case p.taskChan <- event:
		case <-p.ctx.Done():
			p.requeue(event)
			return
		}
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	p.log.Debug("webhook pool: worker iniciado", zap.Int("workerId", id))

	for {
		select {
		case <-p.ctx.Done():
			p.log.Debug("webhook pool: worker encerrando", zap.Int("workerId", id))
			return
		case event := <-p.taskChan:
			// select escolhe ao acaso quando os dois casos estão prontos.
			if p.ctx.Err() != nil {
				p.requeue(event)
				return
			}
			p.process(id, event)
		}
	}
}

func (p *Pool) process(workerID int, event *queue.Event) {
	ctx, cancel := context.WithTimeout(p.ctx, p.handleTimeout)
	defer cancel()

	p.log.Debug("webhook pool: processando evento",
		zap.Int("workerId", workerID),
		zap.String("eventId", event.ID),
		zap.Duration("queued", time.Since(event.EnqueuedAt)),
	)

	p.processor.Handle(ctx, event.Message)
}

func (p *Pool) requeue(event *queue.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	if err := p.queue.Enqueue(ctx, *event); err != nil {
		p.log.Error("webhook pool: evento perdido no encerramento",
			zap.String("eventId", event.ID),
			zap.String("message_id", event.Message.MessageID),
			zap.Error(err),
		)
		return
	}
	p.log.Debug("webhook pool: evento devolvido à fila",
		zap.String("eventId", event.ID),
		zap.String("message_id", event.Message.MessageID),
	)
}
