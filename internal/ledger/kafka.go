package ledger

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/edvin/certverify/internal/domainerr"
)

// producer is the part of *kgo.Client the anchor needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka anchors proofs by appending them to a topic keyed by certificate id.
// The receipt is the record's topic/partition/offset.
type Kafka struct {
	logger  zerolog.Logger
	client  producer
	topic   string
	timeout time.Duration
}

func NewKafka(logger zerolog.Logger, brokers []string, topic string, timeout time.Duration, tlsCfg *tls.Config) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka ledger: no brokers configured")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.NoCompression()),
	}
	if timeout > 0 {
		kopts = append(kopts, kgo.RecordDeliveryTimeout(timeout))
	}
	if tlsCfg != nil {
		kopts = append(kopts, kgo.DialTLSConfig(tlsCfg))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafka(logger, client, topic, timeout), nil
}

func newKafka(logger zerolog.Logger, client producer, topic string, timeout time.Duration) *Kafka {
	return &Kafka{
		logger:  logger.With().Str("component", "ledger-kafka").Logger(),
		client:  client,
		topic:   topic,
		timeout: timeout,
	}
}

func (k *Kafka) Backend() string { return "kafka" }

func (k *Kafka) Anchor(ctx context.Context, proof Proof) (Receipt, error) {
	value, err := json.Marshal(proof)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal proof: %w", err)
	}
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(proof.CertificateID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "raw_hash", Value: []byte(proof.RawHash)},
		},
	}
	produced, err := k.client.ProduceSync(ctx, rec).First()
	if err != nil {
		return Receipt{}, domainerr.Upstream(err, "produce anchor record")
	}

	ref := fmt.Sprintf("%s/%d/%d", produced.Topic, produced.Partition, produced.Offset)
	k.logger.Debug().Str("certificate_id", proof.CertificateID).Str("receipt", ref).Msg("proof anchored")
	anchoredAt := produced.Timestamp
	if anchoredAt.IsZero() {
		anchoredAt = time.Now()
	}
	return Receipt{Backend: "kafka", Reference: ref, AnchoredAt: anchoredAt.UTC()}, nil
}

func (k *Kafka) Close() { k.client.Close() }
