package invalidation

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/zonalstats/internal/core/observability"
)

// Publisher sends events to Kafka without blocking the caller. Events are
// dropped when the queue is full.
type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, logger), nil
}

// NewPublisherWithProducer takes ownership of prod.
func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("invalidation: marshal", "err", err)
				obs.IncInvalidation("publish", "error")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.RasterID),
				Value: sarama.ByteEncoder(b),
			}
			obs.IncInvalidation("publish", "ok")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Error("invalidation: producer error", "err", err)
				obs.IncInvalidation("publish", "error")
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("invalidation: queue full, dropping event", "raster_id", ev.RasterID)
		obs.IncInvalidation("publish", "dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("invalidation: close producer: %w", err)
	}
	<-p.errDone
	return nil
}
