package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/allison-weber/EPAnomoly/internal/config"
	"github.com/allison-weber/EPAnomoly/internal/domain"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes one message per verdict of a finished run.
// It implements pipeline.VerdictSink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured verdict topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaVerdictTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// PublishRun serializes every verdict of run and writes them in one batch,
// retrying transient failures with capped exponential backoff.
func (w *Writer) PublishRun(ctx context.Context, run domain.Run) error {
	if len(run.Verdicts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(run.Verdicts))
	for i := range run.Verdicts {
		msg, err := serializeToMessage(run, run.Verdicts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = w.writer.WriteMessages(ctx, msgs...); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		w.logger.Warn("kafka write failed, retrying",
			"run_id", run.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
	return fmt.Errorf("publish run %s: %w", run.ID, err)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// verdictMessage is the wire shape of one published verdict.
type verdictMessage struct {
	RunID      string          `json:"run_id"`
	Detector   domain.Detector `json:"detector"`
	Variable   string          `json:"variable"`
	SiteID     domain.SiteID   `json:"site_id"`
	Outlier    int             `json:"outlier"`
	Status     domain.Status   `json:"status"`
	StartDate  string          `json:"start_date,omitempty"`
	EndDate    string          `json:"end_date,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// serializeToMessage marshals one verdict of run into a Kafka message keyed
// by site so a site's verdicts stay on one partition.
func serializeToMessage(run domain.Run, v domain.Verdict) (kafkago.Message, error) {
	body := verdictMessage{
		RunID:      run.ID.String(),
		Detector:   v.Detector,
		Variable:   run.Variable,
		SiteID:     v.Site,
		Outlier:    v.Outlier,
		Status:     v.Status,
		FinishedAt: run.FinishedAt,
	}
	if !run.Range.Start.IsZero() {
		body.StartDate = run.Range.Start.Format(domain.DateLayout)
	}
	if !run.Range.End.IsZero() {
		body.EndDate = run.Range.End.Format(domain.DateLayout)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize verdict: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(v.Site),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(body.RunID)},
			{Key: "detector", Value: []byte(v.Detector)},
			{Key: "variable", Value: []byte(run.Variable)},
		},
	}, nil
}
