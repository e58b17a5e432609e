// Package events publishes a notification for every layer a retrieval run registers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

// LayerRetrieved is emitted once per layer result.
type LayerRetrieved struct {
	RunID    string            `json:"run_id"`
	Dataset  string            `json:"dataset"`
	Layer    string            `json:"layer"`
	Type     model.ServiceType `json:"type"`
	Filename string            `json:"filename,omitempty"`
	URL      string            `json:"url,omitempty"`
	Features int               `json:"features"`
	TS       time.Time         `json:"ts"`
}

func (e LayerRetrieved) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Type {
	case model.WFS:
		if e.Filename == "" {
			return fmt.Errorf("filename is required for WFS")
		}
	case model.WMS:
		if e.URL == "" {
			return fmt.Errorf("url is required for WMS")
		}
	default:
		return fmt.Errorf("type must be WFS|WMS")
	}
	return nil
}

// Sink receives layer events. Publish must not block.
type Sink interface {
	Publish(ev LayerRetrieved)
}

// NewRunID identifies one Fetch call across its events.
func NewRunID() string {
	return uuid.NewString()
}

type Publisher struct {
	topic   string
	events  chan LayerRetrieved
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
}

var _ Sink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan LayerRetrieved, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Dataset),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish queues ev; invalid events and events arriving while the queue is full are dropped.
func (p *Publisher) Publish(ev LayerRetrieved) {
	if err := ev.Validate(); err != nil {
		p.logger.Warn("events: dropping invalid event", "layer", ev.Layer, "err", err)
		return
	}
	select {
	case p.events <- ev:
	default:
		// never block the retrieval path
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
