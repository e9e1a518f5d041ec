package openbag

import (
	bufferpkg "github.com/openbag/openbag/internal/buffer"
	configpkg "github.com/openbag/openbag/internal/config"
	errspkg "github.com/openbag/openbag/internal/errors"
	loggingpkg "github.com/openbag/openbag/internal/logging"
	logstorepkg "github.com/openbag/openbag/internal/logstore"
	playerpkg "github.com/openbag/openbag/internal/player"
	recorderpkg "github.com/openbag/openbag/internal/recorder"
	schemapkg "github.com/openbag/openbag/internal/schema"
	transportpkg "github.com/openbag/openbag/transport"
)

type (
	// Config aggregates recorder, player, storage, buffer, and transport
	// settings loaded from one YAML document.
	Config         = configpkg.Config
	RecorderConfig = configpkg.RecorderConfig
	PlayerConfig   = configpkg.PlayerConfig
	StorageConfig  = configpkg.StorageConfig
	BufferConfig   = configpkg.BufferConfig
	TopicConfig    = configpkg.TopicConfig

	// Recorder and Player are the two top-level state machines.
	Recorder      = recorderpkg.Recorder
	RecorderState = recorderpkg.State
	Player        = playerpkg.Player
	PlayerState   = playerpkg.State

	RecorderMetrics = recorderpkg.Metrics
	PlayerMetrics   = playerpkg.Metrics

	// Buffer is the bounded producer/consumer queue between subscriber
	// callbacks and the log writer.
	Buffer  = bufferpkg.Buffer
	Message = bufferpkg.Message

	// SchemaRegistry resolves topic types to Protobuf descriptors and
	// builds the transitive descriptor-set blob embedded in a log file.
	SchemaRegistry  = schemapkg.Registry
	SchemaImporter  = schemapkg.Importer
	ResolvedSchema  = schemapkg.Resolved

	// LogWriter/LogReader are the on-disk container's read/write halves.
	LogWriter        = logstorepkg.Writer
	LogReader        = logstorepkg.Reader
	LogWriterOptions = logstorepkg.WriterOptions
	LogCompression   = logstorepkg.Compression
	LogFormat        = logstorepkg.Format
	LogFileInfo      = logstorepkg.FileInfo
	LogTopicInfo     = logstorepkg.TopicInfo
	LogSchema        = logstorepkg.Schema
	LogChannel       = logstorepkg.Channel
	LogRecord        = logstorepkg.Record

	// Transport is the byte-only contract the recorder/player are written
	// against, insulated from any concrete bus's typed API.
	TransportFactory    = transportpkg.Factory
	TransportPublisher  = transportpkg.Publisher
	TransportSubscriber = transportpkg.Subscriber
	TransportConfig     = transportpkg.Config
	TransportWire       = transportpkg.WireTransport
	TransportBuilder    = transportpkg.Builder
	TransportRegistry   = transportpkg.Registry
	Capabilities        = transportpkg.Capabilities

	Logger = loggingpkg.Logger
	Fields = loggingpkg.Fields
)

const (
	RecorderStopped = recorderpkg.StateStopped
	RecorderRunning = recorderpkg.StateRunning
	RecorderPaused  = recorderpkg.StatePaused

	PlayerStopped = playerpkg.StateStopped
	PlayerPlaying = playerpkg.StatePlaying
	PlayerPaused  = playerpkg.StatePaused

	CompressionNone = logstorepkg.CompressionNone
	CompressionLz4  = logstorepkg.CompressionLz4
	CompressionZstd = logstorepkg.CompressionZstd

	FormatMCAP  = logstorepkg.FormatMCAP
	FormatProto = logstorepkg.FormatProto
)

var (
	// NewRecorder and NewPlayer construct the two top-level state
	// machines from config, a schema registry (recorder only), a
	// transport.Factory, a Logger, and an optional Metrics (nil uses
	// prometheus.DefaultRegisterer).
	NewRecorder = recorderpkg.New
	NewPlayer   = playerpkg.New

	NewRecorderMetrics = recorderpkg.NewMetrics
	NewPlayerMetrics   = playerpkg.NewMetrics

	NewBuffer = bufferpkg.New

	NewSchemaRegistry = schemapkg.New
	NewSchemaImporter = func() schemapkg.Importer { return schemapkg.GlobalImporter{} }

	NewLogWriter        = logstorepkg.NewWriter
	OpenLogReader        = logstorepkg.Open
	DefaultWriterOptions = logstorepkg.DefaultWriterOptions

	// WrapWatermill adapts a WireTransport (as returned by a registered
	// transport.Builder) into the byte-only Factory the recorder/player
	// consume.
	WrapWatermill = transportpkg.WrapWatermill

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default

	NewSlogLogger = loggingpkg.NewSlogLogger

	// Sentinel error kinds shared across the recorder and player
	// pipelines; wrapped at call sites so errors.Is continues to resolve
	// them.
	ErrConfig           = errspkg.ErrConfig
	ErrSchema           = errspkg.ErrSchema
	ErrIO               = errspkg.ErrIO
	ErrBackpressureDrop = errspkg.ErrBackpressureDrop
	ErrShutdownDrop     = errspkg.ErrShutdownDrop
	ErrPublish          = errspkg.ErrPublish
)
