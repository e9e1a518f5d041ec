// Package recorder drives the Stopped/Running/Paused state machine that
// subscribes to configured topics, buffers incoming payloads, and drains
// them to a log file through a dedicated writer goroutine.
package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openbag/openbag/internal/buffer"
	"github.com/openbag/openbag/internal/config"
	openbagerrors "github.com/openbag/openbag/internal/errors"
	"github.com/openbag/openbag/internal/logging"
	"github.com/openbag/openbag/internal/logstore"
	"github.com/openbag/openbag/internal/schema"
	"github.com/openbag/openbag/transport"
)

// State is one of the recorder's three lifecycle states.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// topicBinding is everything the recorder tracks per configured topic once
// Start has registered its schema and channel.
type topicBinding struct {
	info       logstore.TopicInfo
	subscriber transport.Subscriber
}

// Recorder subscribes to configured topics, buffers received payloads, and
// drains them to a log file via LogWriter. See spec §4.4 for the state
// machine and writer-thread loop this implements.
type Recorder struct {
	mu    sync.Mutex
	state State

	recCfg     config.RecorderConfig
	storageCfg config.StorageConfig
	bufferCfg  config.BufferConfig

	schemas *schema.Registry
	factory transport.Factory
	log     logging.Logger
	metrics *Metrics

	writer *logstore.Writer
	buf    *buffer.Buffer

	topics map[string]*topicBinding

	totalMessages atomic.Uint64
	totalDrops    atomic.Uint64

	running    atomic.Bool
	writerDone sync.WaitGroup
}

// New creates a Recorder. schemas, factory, and log must not be nil.
func New(recCfg config.RecorderConfig, storageCfg config.StorageConfig, bufferCfg config.BufferConfig, schemas *schema.Registry, factory transport.Factory, log logging.Logger, metrics *Metrics) *Recorder {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Recorder{
		recCfg:     recCfg,
		storageCfg: storageCfg,
		bufferCfg:  bufferCfg,
		schemas:    schemas,
		factory:    factory,
		log:        log,
		metrics:    metrics,
		topics:     make(map[string]*topicBinding),
	}
}

// State returns the recorder's current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TotalMessages returns the count of messages successfully buffered since
// the last Start.
func (r *Recorder) TotalMessages() uint64 { return r.totalMessages.Load() }

// TotalDrops returns the count of messages refused by the buffer (timeout
// or shutdown) since the last Start.
func (r *Recorder) TotalDrops() uint64 { return r.totalDrops.Load() }

// FileInfo returns the current output file's metadata. Only meaningful
// once Start has succeeded.
func (r *Recorder) FileInfo() logstore.FileInfo {
	r.mu.Lock()
	w := r.writer
	r.mu.Unlock()
	if w == nil {
		return logstore.FileInfo{}
	}
	return w.FileInfo()
}

// Start opens the log file, registers every configured topic's schema and
// channel, subscribes to each topic, and spawns the writer goroutine. It
// requires a non-empty topic list and a non-nil transport factory.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		return fmt.Errorf("%w: recorder already started", openbagerrors.ErrConfig)
	}
	if len(r.recCfg.Topics) == 0 {
		return fmt.Errorf("%w: no topics configured", openbagerrors.ErrConfig)
	}
	if r.factory == nil {
		return fmt.Errorf("%w: no transport factory", openbagerrors.ErrConfig)
	}

	ext := "mcap"
	w := logstore.NewWriter(r.recCfg.OutputPath, r.recCfg.FilenamePrefix, ext, logstore.Format(r.recCfg.OutputFormat), logstore.WriterOptions{
		Compression:      logstore.Compression(r.storageCfg.CompressionType),
		CompressionLevel: r.storageCfg.CompressionLevel,
		ChunkSize:        r.storageCfg.ChunkSize,
		MaxFileSize:      r.storageCfg.MaxFileSize,
		SplitBySize:      r.storageCfg.SplitBySize,
	})
	if err := w.Open(); err != nil {
		return err
	}

	buf := buffer.New(r.bufferCfg.BufferSize)
	buf.Clear()
	buf.Start()

	r.writer = w
	r.buf = buf
	r.topics = make(map[string]*topicBinding)
	r.totalMessages.Store(0)
	r.totalDrops.Store(0)
	r.state = StateRunning

	if err := r.registerTopics(); err != nil {
		r.unwindLocked()
		return err
	}
	if err := r.subscribeTopics(); err != nil {
		r.unwindLocked()
		return err
	}

	r.running.Store(true)
	r.writerDone.Add(1)
	go r.writerLoop()

	return nil
}

// registerTopics imports each topic's schema and registers it with the
// writer. Caller must hold r.mu.
func (r *Recorder) registerTopics() error {
	for _, topicCfg := range r.recCfg.Topics {
		resolved, err := r.schemas.Import(r.storageCfg.ProtoSearchPaths, topicCfg.ProtoFile, topicCfg.Type)
		if err != nil {
			return err
		}

		schemaID, err := r.writer.AddSchema(string(resolved.TypeName), "protobuf", resolved.DescriptorSetBytes)
		if err != nil {
			return err
		}
		channelID, err := r.writer.AddChannel(topicCfg.Name, "protobuf", schemaID, nil)
		if err != nil {
			return err
		}

		r.topics[topicCfg.Name] = &topicBinding{
			info: logstore.TopicInfo{
				TopicName:        topicCfg.Name,
				SchemaTypeFQName: string(resolved.TypeName),
				SchemaSourceFile: topicCfg.ProtoFile,
				SchemaID:         schemaID,
				ChannelID:        channelID,
				Encoding:         "protobuf",
			},
		}
	}
	return nil
}

// subscribeTopics creates one bus subscriber per registered topic. Caller
// must hold r.mu.
func (r *Recorder) subscribeTopics() error {
	for name, binding := range r.topics {
		topic := name
		sub, err := r.factory.CreateSubscriber(topic, func(payload []byte) {
			r.OnMessageReceived(topic, payload)
		})
		if err != nil {
			return fmt.Errorf("%w: subscribe %q: %v", openbagerrors.ErrConfig, topic, err)
		}
		binding.subscriber = sub
	}
	return nil
}

// unwindLocked reverses a partially-completed Start: closes the writer,
// stops the buffer, and resets state to Stopped. Caller must hold r.mu.
func (r *Recorder) unwindLocked() {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.log.Error("recorder: close writer during unwind", err, nil)
		}
	}
	if r.buf != nil {
		r.buf.Stop()
	}
	r.state = StateStopped
}

// OnMessageReceived is the callback every topic subscription invokes.
// Messages are dropped silently unless the recorder is Running; this is
// how Pause works without tearing down subscriptions.
func (r *Recorder) OnMessageReceived(topic string, payload []byte) {
	r.mu.Lock()
	st := r.state
	buf := r.buf
	r.mu.Unlock()

	if st != StateRunning || buf == nil {
		return
	}

	timestampNs := uint64(time.Now().UnixNano())
	if buf.Push(topic, payload, timestampNs) {
		r.totalMessages.Add(1)
		r.metrics.messagesTotal.WithLabelValues(topic).Inc()
	} else {
		r.totalDrops.Add(1)
		r.metrics.dropsTotal.WithLabelValues(topic).Inc()
	}
	r.metrics.bufferSize.Set(float64(buf.Size()))
}

// writerLoop drains the buffer to the log file until Stop has been called
// and the buffer is empty. See spec §4.4's writer-thread loop.
func (r *Recorder) writerLoop() {
	defer r.writerDone.Done()

	batchSize := r.storageCfg.WriteBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for r.running.Load() || r.buf.Size() > 0 {
		want := batchSize
		if !r.running.Load() {
			want = r.buf.Size()
			if want == 0 {
				break
			}
		}

		batch, ok := r.buf.Pop(want, 100*time.Millisecond)
		if ok {
			r.writeBatch(batch)
		} else if r.running.Load() {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// writeBatch writes every record in batch, best-effort: a write failure is
// logged and counted but does not stop the batch.
func (r *Recorder) writeBatch(batch []*buffer.Message) {
	for _, msg := range batch {
		binding, ok := r.topics[msg.Topic]
		if !ok {
			continue
		}
		err := r.writer.Write(binding.info.ChannelID, msg.Sequence, msg.TimestampNs, msg.TimestampNs, msg.Payload)
		if err != nil {
			r.metrics.writeErrorsTotal.WithLabelValues(msg.Topic).Inc()
			r.log.Error("recorder: write failed", err, logging.Fields{"topic": msg.Topic})
		}
	}
	r.metrics.bufferSize.Set(float64(r.buf.Size()))
}

// Pause discards incoming messages at OnMessageReceived without tearing
// down subscriptions or stopping the writer; already-buffered records
// continue to drain.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		r.state = StatePaused
	}
}

// Resume reverses Pause.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StatePaused {
		r.state = StateRunning
	}
}

// Stop transitions to Stopped from any state: it stops accepting new
// subscriber callbacks, signals the writer goroutine to drain and exit,
// joins it, then stops the buffer and closes the writer. Every step is
// best-effort; Stop itself never returns until fully torn down. A failure
// to close the transport factory is logged, not returned; the writer's
// close error, if any, is returned rather than panicking.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopped
	factory := r.factory
	r.mu.Unlock()

	if err := factory.Close(); err != nil {
		r.log.Error("recorder: close transport factory", err, nil)
	}

	r.running.Store(false)
	r.writerDone.Wait()

	r.buf.Stop()

	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("recorder: close writer: %w", err)
	}
	return nil
}
