package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbag/openbag/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "io", caps.Name)
	assert.False(t, caps.SupportsDelay)
	assert.False(t, caps.SupportsNativeDLQ)
	assert.True(t, caps.SupportsOrdering)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.IOCapabilities, caps)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "file", TransportName)
}

func TestBuild(t *testing.T) {
	t.Run("defaults file path when config is empty", func(t *testing.T) {
		var gotPath string
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()
		PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
			gotPath = filePath
			return originalPubFactory(filePath, logger)
		}

		cfg := &mockConfig{}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
		assert.Equal(t, DefaultFilePath, gotPath)
	})

	t.Run("uses configured file path", func(t *testing.T) {
		cfg := &mockConfig{ioFile: "/tmp/openbag-custom.log"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()
		PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &mockConfig{}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})
}

func TestPublisherSubscriber_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.log")

	pub := &Publisher{filePath: path, logger: watermill.NopLogger{}}
	sub := &Subscriber{filePath: path, logger: watermill.NopLogger{}}

	require.NoError(t, pub.Publish("other-topic", message.NewMessage("skip-me", []byte("nope"))))
	require.NoError(t, pub.Publish("telemetry", message.NewMessage("keep-me", []byte("payload"))))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, "telemetry")
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "keep-me", msg.UUID)
		assert.Equal(t, message.Payload("payload"), msg.Payload)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, pub.Close())
	require.NoError(t, sub.Close())
}

func TestPublisher_OpenFileError(t *testing.T) {
	pub := &Publisher{filePath: filepath.Join(t.TempDir(), "missing-dir", "messages.log"), logger: watermill.NopLogger{}}
	err := pub.Publish("topic", message.NewMessage("id", []byte("x")))
	assert.Error(t, err)
}

func TestSubscriber_StopsOnContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.log")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	sub := &Subscriber{filePath: path, logger: watermill.NopLogger{}}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := sub.Subscribe(ctx, "telemetry")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after context cancel")
	}
}

type mockConfig struct {
	ioFile string
}

func (m *mockConfig) GetPubSubSystem() string       { return "file" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetIOFile() string             { return m.ioFile }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }
