// Package logstore implements the on-disk container format openbag records
// into and replays from: an MCAP-inspired, self-describing binary log of
// Schema, Channel, and chunked/compressed Message records, with file
// rotation by size.
package logstore

import "fmt"

// Compression selects the codec used for a chunk's message payload.
type Compression string

// Supported compression codecs, matching the spec's file-option contract.
const (
	CompressionNone Compression = "none"
	CompressionLz4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

var validCompressions = map[Compression]struct{}{}

func init() {
	for _, c := range []Compression{CompressionNone, CompressionLz4, CompressionZstd} {
		validCompressions[c] = struct{}{}
	}
}

// Validate reports whether c is one of the supported compression codecs.
func (c Compression) Validate() error {
	if _, ok := validCompressions[c]; !ok {
		return fmt.Errorf("logstore: unsupported compression %q", c)
	}
	return nil
}

// Format selects the output container format. openbag only implements the
// mcap-shaped container; "proto" is accepted for config compatibility with
// the original but is not a distinct on-disk layout here.
type Format string

const (
	FormatMCAP  Format = "mcap"
	FormatProto Format = "proto"
)

// WriterOptions carries the compression and chunking options the spec
// requires the container format to honor as file options.
type WriterOptions struct {
	Compression      Compression
	CompressionLevel int
	ChunkSize        int // bytes; a chunk is flushed once its buffered size reaches this
	MaxFileSize      uint64
	SplitBySize      bool
}

// DefaultWriterOptions mirrors original_source/include/openbag/config.hpp's
// StorageConfig defaults.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Compression:      CompressionNone,
		CompressionLevel: 0,
		ChunkSize:        1024,
		MaxFileSize:      1 << 30,
		SplitBySize:      true,
	}
}

// TopicInfo describes one registered topic: its schema binding and the
// small integer IDs LogWriter assigned during registration. IDs are stable
// for the life of one output file; on rotation they are re-assigned (to the
// same values, by replaying registration in the same order).
type TopicInfo struct {
	TopicName        string
	SchemaTypeFQName string
	SchemaSourceFile string
	SchemaID         uint32
	ChannelID        uint32
	Encoding         string
}

// FileInfo tracks the currently open output file, updated atomically with
// each write.
type FileInfo struct {
	IsOpen          bool
	SizeBytes       uint64
	Prefix          string
	Extension       string
	Dir             string
	CurrentFilename string
	Format          Format
}

// Schema is one embedded schema record, as read back from a log file.
type Schema struct {
	ID       uint32
	Name     string
	Encoding string
	Data     []byte
}

// Channel is one embedded channel record, as read back from a log file.
type Channel struct {
	ID              uint32
	Topic           string
	MessageEncoding string
	SchemaID        uint32
	Metadata        map[string]string
}

// Record is one message record, as read back from a log file.
type Record struct {
	ChannelID     uint32
	Sequence      uint64
	LogTimeNs     uint64
	PublishTimeNs uint64
	Data          []byte
}
