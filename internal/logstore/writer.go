package logstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	openbagerrors "github.com/openbag/openbag/internal/errors"
)

type registeredSchema struct {
	id       uint32
	name     string
	encoding string
	data     []byte
}

type registeredChannel struct {
	id       uint32
	topic    string
	encoding string
	schemaID uint32
	metadata map[string]string
}

// Writer opens, rotates, and writes an openbag log file. It is the
// concrete implementation behind the spec's LogWriter facade, modeled on
// MCAP: Open/AddSchema/AddChannel/Write/Close.
//
// A dedicated mutex serializes writes and rotations with reads of
// FileInfo, matching the concurrency model's single shared resource for
// this component.
type Writer struct {
	mu sync.Mutex

	dir    string
	prefix string
	ext    string
	format Format
	opts   WriterOptions

	f        *os.File
	fileInfo FileInfo

	schemas  []registeredSchema
	channels []registeredChannel

	chunkBuf bytes.Buffer
}

// NewWriter creates an unopened Writer for the given directory/prefix and
// options. ext should not include the leading dot (e.g. "mcap").
func NewWriter(dir, prefix, ext string, format Format, opts WriterOptions) *Writer {
	return &Writer{
		dir:    dir,
		prefix: prefix,
		ext:    ext,
		format: format,
		opts:   opts,
	}
}

// Open creates the directory if needed and opens the first output file.
func (w *Writer) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fileInfo.IsOpen {
		return fmt.Errorf("%w: writer already open", openbagerrors.ErrIO)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", openbagerrors.ErrIO, w.dir, err)
	}
	return w.openNewFile()
}

// openNewFile generates a fresh filename and opens it, writing the header.
// The file is created exclusively: when a rotation lands in the same second
// as an existing file, the new file gets a _001, _002, ... suffix instead of
// truncating it. Caller must hold mu.
func (w *Writer) openNewFile() error {
	now := time.Now()
	filename := generateFilename(w.dir, w.prefix, w.ext, now)

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	for n := 1; os.IsExist(err); n++ {
		filename = filepath.Join(w.dir, fmt.Sprintf("%s_%s_%03d.%s", w.prefix, now.Format("2006_01_02-15_04_05"), n, w.ext))
		f, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", openbagerrors.ErrIO, filename, err)
	}
	if err := writeHeader(f); err != nil {
		f.Close()
		return fmt.Errorf("%w: write header: %v", openbagerrors.ErrIO, err)
	}

	w.f = f
	w.fileInfo = FileInfo{
		IsOpen:          true,
		SizeBytes:       uint64(len(magic) + 4),
		Prefix:          w.prefix,
		Extension:       w.ext,
		Dir:             w.dir,
		CurrentFilename: filename,
		Format:          w.format,
	}
	return nil
}

// generateFilename builds "<dir>/<prefix>_YYYY_MM_DD-HH_MM_SS.<ext>".
func generateFilename(dir, prefix, ext string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, t.Format("2006_01_02-15_04_05"), ext))
}

// AddSchema registers a schema and returns its assigned ID (registration
// order, 1-based).
func (w *Writer) AddSchema(name, encoding string, data []byte) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.fileInfo.IsOpen {
		return 0, fmt.Errorf("%w: writer not open", openbagerrors.ErrIO)
	}

	id := uint32(len(w.schemas) + 1)
	s := registeredSchema{id: id, name: name, encoding: encoding, data: data}
	if err := w.writeSchemaRecord(s); err != nil {
		return 0, err
	}
	w.schemas = append(w.schemas, s)
	return id, nil
}

// AddChannel registers a channel bound to schemaID and returns its
// assigned ID (registration order, 1-based).
func (w *Writer) AddChannel(topic, encoding string, schemaID uint32, metadata map[string]string) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.fileInfo.IsOpen {
		return 0, fmt.Errorf("%w: writer not open", openbagerrors.ErrIO)
	}

	id := uint32(len(w.channels) + 1)
	c := registeredChannel{id: id, topic: topic, encoding: encoding, schemaID: schemaID, metadata: metadata}
	if err := w.writeChannelRecord(c); err != nil {
		return 0, err
	}
	w.channels = append(w.channels, c)
	return id, nil
}

func (w *Writer) writeSchemaRecord(s registeredSchema) error {
	var buf bytes.Buffer
	writeUint32(&buf, s.id)
	writeString(&buf, s.name)
	writeString(&buf, s.encoding)
	writeBytes(&buf, s.data)
	return w.writeFramedRecord(recordSchema, buf.Bytes())
}

func (w *Writer) writeChannelRecord(c registeredChannel) error {
	var buf bytes.Buffer
	writeUint32(&buf, c.id)
	writeString(&buf, c.topic)
	writeString(&buf, c.encoding)
	writeUint32(&buf, c.schemaID)
	writeMetadata(&buf, c.metadata)
	return w.writeFramedRecord(recordChannel, buf.Bytes())
}

// writeFramedRecord writes a type byte, big-endian uint32 length, and
// payload directly to the file (used for Schema/Channel records, which are
// never chunked so the reader can build its summary without decompressing
// message chunks). Caller must hold mu.
func (w *Writer) writeFramedRecord(t recordType, payload []byte) error {
	if _, err := w.f.Write([]byte{byte(t)}); err != nil {
		return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
	}
	if err := writeUint32(w.f, uint32(len(payload))); err != nil {
		return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
	}
	w.fileInfo.SizeBytes += uint64(1 + 4 + len(payload))
	return nil
}

// Write appends one message record to the current chunk buffer, flushing
// and rotating as configured. Timestamps are nanoseconds throughout this
// implementation, standardized per the spec's resolved design note (the
// original source mixes microsecond and nanosecond units).
func (w *Writer) Write(channelID uint32, sequence uint64, logTimeNs, publishTimeNs uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.fileInfo.IsOpen {
		return fmt.Errorf("%w: writer not open", openbagerrors.ErrIO)
	}

	var rec bytes.Buffer
	writeUint32(&rec, channelID)
	writeUint64(&rec, sequence)
	writeUint64(&rec, logTimeNs)
	writeUint64(&rec, publishTimeNs)
	writeBytes(&rec, data)

	// Each message within the chunk buffer keeps its own length prefix so
	// the reader can split the decompressed chunk back into records.
	if err := writeUint32(&w.chunkBuf, uint32(rec.Len())); err != nil {
		return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
	}
	if _, err := w.chunkBuf.Write(rec.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
	}
	w.fileInfo.SizeBytes += uint64(len(data)) + 29 // per-record overhead estimate

	if w.opts.ChunkSize > 0 && w.chunkBuf.Len() >= w.opts.ChunkSize {
		if err := w.flushChunkLocked(); err != nil {
			return err
		}
	}

	if w.opts.SplitBySize && w.fileInfo.SizeBytes >= w.opts.MaxFileSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	return nil
}

// flushChunkLocked compresses and writes the buffered message records as a
// single Chunk record. Caller must hold mu.
func (w *Writer) flushChunkLocked() error {
	if w.chunkBuf.Len() == 0 {
		return nil
	}

	raw := w.chunkBuf.Bytes()
	compressed, err := compress(raw, w.opts.Compression, w.opts.CompressionLevel)
	if err != nil {
		return fmt.Errorf("%w: compress chunk: %v", openbagerrors.ErrIO, err)
	}

	var payload bytes.Buffer
	writeString(&payload, string(w.opts.Compression))
	writeUint32(&payload, uint32(len(raw)))
	payload.Write(compressed)

	if err := w.writeFramedRecord(recordChunk, payload.Bytes()); err != nil {
		return err
	}
	w.chunkBuf.Reset()
	return nil
}

// rotateLocked closes the current file, opens a new one, and replays every
// known schema/channel registration so IDs remain valid — fixing the
// original's latent bug where recomputing IDs from the live registration
// map during replay collided every re-registered schema onto the same ID.
// Replaying from w.schemas/w.channels (insertion-ordered slices, already
// carrying their originally-assigned IDs) reproduces the exact same IDs
// deterministically instead of recomputing them. Caller must hold mu.
func (w *Writer) rotateLocked() error {
	if err := w.flushChunkLocked(); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("%w: close for rotation: %v", openbagerrors.ErrIO, err)
	}

	if err := w.openNewFile(); err != nil {
		return err
	}

	for _, s := range w.schemas {
		if err := w.writeSchemaRecord(s); err != nil {
			return err
		}
	}
	for _, c := range w.channels {
		if err := w.writeChannelRecord(c); err != nil {
			return err
		}
	}
	return nil
}

// FileInfo returns a snapshot of the current file's metadata.
func (w *Writer) FileInfo() FileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fileInfo
}

// Close flushes any pending chunk and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.fileInfo.IsOpen {
		return nil
	}
	if err := w.flushChunkLocked(); err != nil {
		return err
	}
	err := w.f.Close()
	w.fileInfo.IsOpen = false
	if err != nil {
		return fmt.Errorf("%w: close: %v", openbagerrors.ErrIO, err)
	}
	return nil
}
