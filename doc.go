// Package openbag records published bus messages to a rotating, chunked
// binary log and replays them back onto the bus later, at a configurable
// rate. It reads topic/schema/storage/transport settings from Config,
// resolves each topic's Protobuf schema against the global registry, and
// drives the Recorder or Player state machine on top of one of several
// pluggable transports (Kafka, RabbitMQ, NATS, NATS JetStream, AWS SNS/SQS,
// or an in-memory Go channel for tests).
//
// A minimal recorder setup loads a Config, builds a transport.Factory via
// transport.WrapWatermill, constructs a Recorder with NewRecorder, and calls
// Start; a minimal player setup is symmetric with NewPlayer. See
// cmd/openbag-record and cmd/openbag-play for complete wiring.
//
// # Transports
//
// openbag ships these pub/sub backends out of the box:
//   - channel: in-memory Go channels, for tests and local development
//   - file: JSON-lines messages appended to and tailed from a local file
//   - kafka: partitioned, ordered streaming via Sarama
//   - rabbitmq: AMQP queues with native delay and DLQ support
//   - nats / nats-jetstream: lightweight pub/sub, with JetStream adding
//     persistence and redelivery
//   - aws: SNS/SQS, including LocalStack endpoints for local testing
//
// # Log format
//
// internal/logstore implements an MCAP-inspired self-describing binary
// container: Schema and Channel records are written uncompressed so a
// reader can build its summary without touching message data, and Message
// records are buffered into Chunk records, uncompressed by default or lz4-
// or zstd-compressed when the storage config selects it. Files
// rotate by size, re-registering every known schema and channel so IDs
// stay valid across the split.
package openbag
