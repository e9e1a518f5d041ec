// Package transport insulates the recorder/player core from any concrete
// messaging bus. Concrete backends (kafka, rabbitmq, nats, aws, ...) live
// in sub-packages and register themselves with the registry; the core only
// ever sees the byte-in/byte-out Factory contract in this file.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// WireTransport combines a Watermill publisher and subscriber pair produced
// by a Builder. It is the connection-level handle a Builder returns; the
// core never touches it directly, only through a Factory built from it
// (see WrapWatermill).
type WireTransport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a wire transport from
// config. Each transport package provides one and registers it.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (WireTransport, error)

// Config provides the connection settings needed by transports. Each
// backend only reads the fields relevant to it.
type Config interface {
	// GetPubSubSystem returns the transport type name used to select a Builder.
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetIOFile() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their
// capabilities. The recorder and player do not consult capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Publisher is the core's only publish contract: a topic-bound sink for
// already-serialized bytes. Typed overloads may exist on concrete
// transports for convenience, but the recorder/player only ever use this.
type Publisher interface {
	// Publish sends payload on this publisher's topic, returning whether
	// the bus accepted it.
	Publish(payload []byte) bool
	Topic() string
}

// Subscriber identifies a live subscription; the callback that receives
// bytes is supplied at creation time via Factory.CreateSubscriber.
type Subscriber interface {
	Topic() string
}

// Factory is the transport contract the recorder and player are written
// against: create a byte publisher or subscriber for a topic, without ever
// exposing the underlying bus's typed API.
type Factory interface {
	CreatePublisher(topic string) (Publisher, error)
	CreateSubscriber(topic string, callback func(payload []byte)) (Subscriber, error)
	// Close tears down every publisher/subscriber this factory created.
	Close() error
}
