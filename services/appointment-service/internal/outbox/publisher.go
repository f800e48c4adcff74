package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/pestledger/libs/db"
	"github.com/md-rashed-zaman/pestledger/libs/kafkax"
	otelx "github.com/md-rashed-zaman/pestledger/libs/otel"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays committed outbox rows to Kafka, one topic per event
// type, keyed by appointment so each appointment's events stay ordered.
// A crash between the write and the commit resends the batch; consumers
// dedupe on the event_id header.
type Publisher struct {
	conn   db.Conn
	writer MessageWriter
	logger *slog.Logger
	cfg    PublisherConfig
	now    func() time.Time
}

func NewPublisher(conn db.Conn, writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{conn: conn, writer: writer, logger: logger, cfg: cfg, now: time.Now}
}

// Run polls until ctx ends. A full batch is followed immediately by the
// next one so a backlog drains without waiting for the ticker.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			n, err := p.PublishBatch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("outbox relay failed", "err", err)
				}
				break
			}
			if n > 0 {
				p.logger.Debug("outbox relayed", "events", n)
			}
			if n < p.cfg.BatchSize {
				break
			}
		}
	}
}

// PublishBatch relays at most one batch and returns how many events went out.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := claim(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, len(batch))
	seqs := make([]int64, len(batch))
	for i, q := range batch {
		msgs[i] = kafka.Message{
			Topic:   q.event.Topic,
			Key:     []byte(q.event.AppointmentID),
			Value:   q.event.Payload,
			Headers: kafkax.Headers(otelx.RestoreTrace(ctx, q.trace), kafkax.EventMeta{EventID: q.event.ID, EventType: q.event.Topic}),
		}
		seqs[i] = q.seq
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := markRelayed(ctx, tx, seqs, p.now().UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(batch), nil
}
