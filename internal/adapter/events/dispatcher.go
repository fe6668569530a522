// Package events delivers marketplace notifications off the request path.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/metrics"
	"github.com/rl1809/escrow-market/internal/port"
)

const deliveryTimeout = 5 * time.Second

var errDispatcherClosed = errors.New("dispatcher closed")

// Sink is a named destination for notifications.
type Sink struct {
	Name string
	Repo port.EventRepository
}

// Dispatcher queues notifications and hands them to a pool of workers that deliver
// each one to every sink.
type Dispatcher struct {
	queue  chan domain.Envelope
	sinks  []Sink
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(queueSize int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  make(chan domain.Envelope, queueSize),
		sinks:  sinks,
		logger: logger,
	}
}

// Publish enqueues the event. It blocks while the queue is full and drops the event
// if ctx ends first or the dispatcher is closed.
func (d *Dispatcher) Publish(ctx context.Context, event domain.Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, errDispatcherClosed)
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event, ctx.Err())
	}
}

func (d *Dispatcher) drop(event domain.Envelope, reason error) {
	d.logger.Warn("dropped event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Error(reason),
	)
}

// Start launches workerCount workers. They run until Close.
func (d *Dispatcher) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.logger.Info("started event workers", zap.Int("workers", workerCount))
}

// Close stops accepting events, drains the queue and waits for the workers.
// Events published after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(id, sink, event)
		}
	}
}

func (d *Dispatcher) deliver(id int, sink Sink, event domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := sink.Repo.SaveEvent(ctx, event)
	metrics.EventDeliveryDuration.WithLabelValues(sink.Name).Observe(time.Since(start).Seconds())
	metrics.EventDeliveries.WithLabelValues(sink.Name, metrics.Result(err)).Inc()

	if err != nil {
		d.logger.Error("failed to deliver event",
			zap.Int("worker", id),
			zap.String("sink", sink.Name),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("delivered event",
		zap.Int("worker", id),
		zap.String("sink", sink.Name),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
	)
}

// LogSink writes every notification to the logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) SaveEvent(ctx context.Context, event domain.Envelope) error {
	s.Logger.Info("market event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Time("occurred_at", event.OccurredAt),
		zap.Any("payload", event.Payload),
	)
	return nil
}
