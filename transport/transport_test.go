package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWireTransport_Struct(t *testing.T) {
	wire := WireTransport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}

	assert.NotNil(t, wire.Publisher)
	assert.NotNil(t, wire.Subscriber)
}

func TestConfig_Interface(t *testing.T) {
	var _ Config = (*mockConfig)(nil)

	cfg := &mockConfig{pubSubSystem: "test"}
	assert.Equal(t, "test", cfg.GetPubSubSystem())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var _ CapabilitiesProvider = testProvider{}

	provider := testProvider{}
	caps := provider.Capabilities()
	assert.Equal(t, "test", caps.Name)
}

func TestWrapWatermill_PublishAndSubscribe(t *testing.T) {
	wire := WireTransport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}
	factory := WrapWatermill(wire)
	defer factory.Close()

	pub, err := factory.CreatePublisher("topic-a")
	assert.NoError(t, err)
	assert.Equal(t, "topic-a", pub.Topic())
	assert.True(t, pub.Publish([]byte("payload")))

	sub, err := factory.CreateSubscriber("topic-a", func(payload []byte) {})
	assert.NoError(t, err)
	assert.Equal(t, "topic-a", sub.Topic())
}
