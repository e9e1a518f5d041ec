// Package config defines the value structs consumed read-only by the
// recorder, player, and buffer, and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openbag/openbag/internal/logstore"
)

// TopicConfig names one topic to record, and where to resolve its schema.
type TopicConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	ProtoFile string `yaml:"proto_file"`
}

// RecorderConfig configures the Recorder.
type RecorderConfig struct {
	OutputPath     string        `yaml:"output_path"`
	FilenamePrefix string        `yaml:"filename_prefix"`
	OutputFormat   string        `yaml:"output_format"`
	Topics         []TopicConfig `yaml:"topics"`
}

// PlayerConfig configures the Player.
type PlayerConfig struct {
	InputPath     string  `yaml:"input_path"`
	LoopPlayback  bool    `yaml:"loop_playback"`
	PlaybackRate  float64 `yaml:"playback_rate"`
}

// StorageConfig configures LogWriter's container options.
type StorageConfig struct {
	CompressionType   string   `yaml:"compression_type"`
	CompressionLevel  int      `yaml:"compression_level"`
	ProtoSearchPaths  []string `yaml:"proto_search_paths"`
	WriteBatchSize    int      `yaml:"write_batch_size"`
	MaxFileSize       uint64   `yaml:"max_file_size"`
	ChunkSize         int      `yaml:"chunk_size"`
	SplitBySize       bool     `yaml:"split_by_size"`
}

// BufferConfig configures the MessageBuffer.
type BufferConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// TransportConfig satisfies transport.Config, carrying per-backend
// connection settings loaded from YAML alongside the core config sections.
type TransportConfig struct {
	PubSubSystem string `yaml:"pubsub_system"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	RabbitMQURL string `yaml:"rabbitmq_url"`

	NATSURL string `yaml:"nats_url"`

	IOFile string `yaml:"io_file"`

	AWSRegion          string `yaml:"aws_region"`
	AWSAccountID       string `yaml:"aws_account_id"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSEndpoint        string `yaml:"aws_endpoint"`
}

func (c *TransportConfig) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *TransportConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *TransportConfig) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *TransportConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *TransportConfig) GetNATSURL() string            { return c.NATSURL }
func (c *TransportConfig) GetIOFile() string              { return c.IOFile }
func (c *TransportConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c *TransportConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *TransportConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *TransportConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *TransportConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }

// String redacts credentials, following the teacher config's redaction
// convention, so this type is safe to log directly.
func (c TransportConfig) String() string {
	redacted := c
	if redacted.AWSAccessKeyID != "" {
		redacted.AWSAccessKeyID = "***REDACTED***"
	}
	if redacted.AWSSecretAccessKey != "" {
		redacted.AWSSecretAccessKey = "***REDACTED***"
	}
	type alias TransportConfig
	return fmt.Sprintf("%+v", alias(redacted))
}

// Config aggregates every section the core consumes, as loaded from one
// YAML document.
type Config struct {
	Recorder  RecorderConfig  `yaml:"recorder"`
	Player    PlayerConfig    `yaml:"player"`
	Storage   StorageConfig   `yaml:"storage"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Transport TransportConfig `yaml:"transport"`
}

// Default returns a Config populated with the same defaults as
// original_source/include/openbag/config.hpp.
func Default() Config {
	return Config{
		Recorder: RecorderConfig{
			OutputFormat: "mcap",
		},
		Player: PlayerConfig{
			PlaybackRate: 1.0,
		},
		Storage: StorageConfig{
			CompressionType: string(logstore.CompressionNone),
			WriteBatchSize:  1000,
			MaxFileSize:     1 << 30,
			ChunkSize:       1024,
			SplitBySize:     true,
		},
		Buffer: BufferConfig{
			BufferSize: 10000,
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// zero-valued fields the file doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every section has the fields required to start a
// recorder or player.
func (c *Config) Validate() error {
	var errs []error

	if c.Recorder.OutputPath != "" && len(c.Recorder.Topics) == 0 {
		errs = append(errs, errors.New("recorder: at least one topic is required"))
	}
	if c.Buffer.BufferSize <= 0 {
		errs = append(errs, errors.New("buffer: buffer_size must be positive"))
	}
	if err := logstore.Compression(c.Storage.CompressionType).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.ChunkSize <= 0 {
		errs = append(errs, errors.New("storage: chunk_size must be positive"))
	}

	return errors.Join(errs...)
}
