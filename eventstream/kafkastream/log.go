package kafkastream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/eventstream"
	"go.uber.org/multierr"
)

// Log is an eventstream.Log backed by Kafka.
//
// Each logical stream is a Kafka topic, keyed by entity ID so that the events
// of any single entity share a partition and therefore an order. Consumer
// groups map directly to Kafka consumer groups.
//
// Kafka can only persist a single committed offset per partition, so the log
// commits the offset just past the lowest unacknowledged delivery. Deliveries
// that are not acknowledged within the ack timeout are redelivered locally.
type Log struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Config is the base sarama configuration. If it is nil, NewConfig() is
	// used.
	Config *sarama.Config

	// Client is the Kafka client used to produce parked events.
	Client sarama.Client

	// Logger is the target for log messages about the log.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m        sync.Mutex
	producer sarama.SyncProducer
}

// NewConfig returns the sarama configuration used by Dial().
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "vista"
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	return cfg
}

// Dial connects to the Kafka brokers identified by uri and returns a log that
// uses them.
//
// The URI has the form kafka://host1:9092,host2:9092.
func Dial(ctx context.Context, uri string) (*Log, error) {
	brokers, err := ParseBrokers(uri)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := NewConfig()

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to reach event log: %w", err)
	}

	return &Log{
		Brokers: brokers,
		Config:  cfg,
		Client:  client,
	}, nil
}

// ParseBrokers returns the broker addresses in a kafka:// URI.
func ParseBrokers(uri string) ([]string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse event log URI: %w", err)
	}

	if u.Scheme != "kafka" {
		return nil, fmt.Errorf("unable to parse event log URI: unsupported scheme '%s'", u.Scheme)
	}

	var brokers []string
	for _, b := range strings.Split(u.Host, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	if len(brokers) == 0 {
		return nil, errors.New("unable to parse event log URI: no brokers specified")
	}

	return brokers, nil
}

// Subscribe joins a consumer group. Kafka creates groups on demand, so joining
// an existing group is indistinguishable from creating a new one.
//
// opts.From applies only when the group has no committed offset for a
// partition.
func (l *Log) Subscribe(
	ctx context.Context,
	opts eventstream.SubscriptionOptions,
) (eventstream.Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	base := l.Config
	if base == nil {
		base = NewConfig()
	}

	cfg := *base
	if opts.From == eventstream.FromEnd {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(l.Brokers, opts.Group, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to join consumer group '%s': %w", opts.Group, err)
	}

	producer, err := l.syncProducer()
	if err != nil {
		return nil, multierr.Append(err, group.Close())
	}

	s := newSubscription(l, opts, group, producer)
	s.start()

	return s, nil
}

// Close closes the producer used for parking and the underlying client.
func (l *Log) Close() error {
	var err error

	if l.producer != nil {
		err = l.producer.Close()
	}

	return multierr.Append(err, l.Client.Close())
}

// syncProducer returns the producer used to write parked events.
func (l *Log) syncProducer() (sarama.SyncProducer, error) {
	l.m.Lock()
	defer l.m.Unlock()

	if l.producer != nil {
		return l.producer, nil
	}

	p, err := sarama.NewSyncProducerFromClient(l.Client)
	if err != nil {
		return nil, fmt.Errorf("unable to create parked event producer: %w", err)
	}

	l.producer = p

	return p, nil
}
