// Package events publishes fiscal domain events to Kafka for downstream
// consumers (receipt archival, alerting, BI). Publishing is fire-and-log ops
// semantics: a broker outage must never fail or delay a signing operation.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/jobs"
)

const (
	EventTransactionSigned = "fiscal.transaction.signed"
	EventJobCompleted      = "fiscal.job.completed"
)

// envelope is the wire shape shared by every event on the topic.
type envelope struct {
	Type      string          `json:"type"`
	OrgID     string          `json:"org_id"`
	SiteID    string          `json:"site_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// producer is the slice of *kgo.Client the publisher needs; tests swap in a
// record capture.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Publisher writes events through a franz-go client.
type Publisher struct {
	client producer
	topic  string
	logger *slog.Logger
}

// New connects a publisher. Returns nil when no brokers are configured, so
// the caller can wire a nil-safe sink instead.
func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Close flushes and releases the client.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}

// TransactionSigned implements fiscal.EventSink.
func (p *Publisher) TransactionSigned(ctx context.Context, key fiscal.SiteKey, result *fiscal.RecordResult) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("marshal signed-transaction event failed", "error", err)
		return
	}
	p.produce(ctx, EventTransactionSigned, key.OrgID, key.SiteID, payload)
}

// JobCompleted implements jobs.EventSink.
func (p *Publisher) JobCompleted(ctx context.Context, orgID string, entry *jobs.HistoryEntry) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		p.logger.Error("marshal job event failed", "error", err)
		return
	}
	p.produce(ctx, EventJobCompleted, orgID, entry.Site.SiteID, payload)
}

func (p *Publisher) produce(ctx context.Context, eventType, orgID, siteID string, payload json.RawMessage) {
	value, err := json.Marshal(envelope{
		Type:      eventType,
		OrgID:     orgID,
		SiteID:    siteID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.Error("marshal event envelope failed", "type", eventType, "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		// Key by org/site so one site's events stay ordered per partition.
		Key:   []byte(orgID + "/" + siteID),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("event publish failed", "type", eventType, "error", err)
		}
	})
}

var (
	_ fiscal.EventSink = (*Publisher)(nil)
	_ jobs.EventSink   = (*Publisher)(nil)
)
