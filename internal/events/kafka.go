package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher queues events in memory and writes them from Run. Writes go through a
// circuit breaker so a dead broker costs one fast failure per event instead of a timeout.
type KafkaPublisher struct {
	w     messageWriter
	cb    *gobreaker.CircuitBreaker
	queue chan Event
	log   *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: writeTimeout,
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	st := gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &KafkaPublisher{
		w:     w,
		cb:    gobreaker.NewCircuitBreaker(st),
		queue: make(chan Event, queueSize),
		log:   log,
	}
}

// Publish enqueues ev. A full queue drops the event.
func (p *KafkaPublisher) Publish(ev Event) {
	select {
	case p.queue <- ev:
	default:
		p.log.Warn("event queue full, dropping", zap.String("type", ev.Type))
	}
}

// Run writes queued events until ctx is done, then flushes what is left and closes
// the writer.
func (p *KafkaPublisher) Run(ctx context.Context) {
	defer func() {
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *KafkaPublisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.write(ev)
		default:
			return
		}
	}
}

// write is detached from Run's context so events queued before shutdown still go out.
func (p *KafkaPublisher) write(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	msg := kafkago.Message{
		Key:   []byte(ev.ConversationID.String()),
		Value: b,
		Time:  ev.At,
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.w.WriteMessages(ctx, msg)
	})
	if err != nil {
		p.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
