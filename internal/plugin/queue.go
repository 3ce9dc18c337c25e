package plugin

import (
	"sort"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// queueTopic is the in-process topic between MQTT delivery and the worker.
const queueTopic = "mqtt.delivered"

// Metadata keys carried on queued deliveries.
const (
	metaFilter     = "filter"
	metaTopic      = "topic"
	metaReceivedAt = "received_at"
	metaGeneration = "generation"
)

// delivery is a decoded queue message.
type delivery struct {
	filter     string
	topic      string
	payload    string
	receivedAt time.Time
	generation uint64
}

// newQueue returns a queue that hands the worker one message at a time.
// Publish returns only after the previous message was acked, so a single
// publisher keeps arrival order.
func newQueue(logger Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger{logger: logger},
	)
}

// watermillLogger adapts Logger to watermill.LoggerAdapter. Watermill's
// per-message debug and trace lines are discarded.
type watermillLogger struct {
	logger Logger
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(l.args(fields), "error", err)...)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, l.args(fields)...)
}

func (l watermillLogger) Debug(string, watermill.LogFields) {}

func (l watermillLogger) Trace(string, watermill.LogFields) {}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger, fields: l.fields.Add(fields)}
}

func (l watermillLogger) args(fields watermill.LogFields) []any {
	merged := l.fields.Add(fields)
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys)+2)
	for _, k := range keys {
		args = append(args, k, merged[k])
	}
	return args
}

func encodeDelivery(d delivery) *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), []byte(d.payload))
	msg.Metadata.Set(metaFilter, d.filter)
	msg.Metadata.Set(metaTopic, d.topic)
	msg.Metadata.Set(metaReceivedAt, d.receivedAt.UTC().Format(time.RFC3339Nano))
	msg.Metadata.Set(metaGeneration, strconv.FormatUint(d.generation, 10))
	return msg
}

func decodeDelivery(msg *message.Message) delivery {
	d := delivery{
		filter:  msg.Metadata.Get(metaFilter),
		topic:   msg.Metadata.Get(metaTopic),
		payload: string(msg.Payload),
	}
	d.receivedAt, _ = time.Parse(time.RFC3339Nano, msg.Metadata.Get(metaReceivedAt)) //nolint:errcheck // set by encodeDelivery
	d.generation, _ = strconv.ParseUint(msg.Metadata.Get(metaGeneration), 10, 64) //nolint:errcheck // set by encodeDelivery
	return d
}
