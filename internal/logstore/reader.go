package logstore

import (
	"bytes"
	"fmt"
	"io"
	"os"

	openbagerrors "github.com/openbag/openbag/internal/errors"
)

type chunkSpan struct {
	offset int64
	length uint32
}

// Reader opens an openbag log file, scans its summary (schema and channel
// tables) eagerly, and produces a lazy, chunk-at-a-time record stream —
// the concrete implementation behind the spec's LogReader facade.
type Reader struct {
	f *os.File

	schemas      []Schema
	channels     []Channel
	channelByID  map[uint32]Channel
	chunkSpans   []chunkSpan
}

// Open opens path and scans its schema/channel summary. Message chunks are
// located but not decompressed until a MessageIterator reaches them.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", openbagerrors.ErrIO, path, err)
	}

	r := &Reader{
		f:           f,
		channelByID: make(map[uint32]Channel),
	}
	if err := r.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) scan() error {
	if err := readHeader(r.f); err != nil {
		return err
	}

	for {
		var typeByte [1]byte
		if _, err := io.ReadFull(r.f, typeByte[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("%w: read record type: %v", openbagerrors.ErrIO, err)
		}

		length, err := readUint32(r.f)
		if err != nil {
			return fmt.Errorf("%w: read record length: %v", openbagerrors.ErrIO, err)
		}

		rt := recordType(typeByte[0])
		if rt == recordChunk {
			offset, err := r.f.Seek(0, io.SeekCurrent)
			if err != nil {
				return fmt.Errorf("%w: %v", openbagerrors.ErrIO, err)
			}
			r.chunkSpans = append(r.chunkSpans, chunkSpan{offset: offset, length: length})
			if _, err := r.f.Seek(int64(length), io.SeekCurrent); err != nil {
				return fmt.Errorf("%w: skip chunk: %v", openbagerrors.ErrIO, err)
			}
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r.f, payload); err != nil {
			return fmt.Errorf("%w: read record payload: %v", openbagerrors.ErrIO, err)
		}

		switch rt {
		case recordSchema:
			s, err := decodeSchema(payload)
			if err != nil {
				return err
			}
			r.schemas = append(r.schemas, s)
		case recordChannel:
			c, err := decodeChannel(payload)
			if err != nil {
				return err
			}
			r.channels = append(r.channels, c)
			r.channelByID[c.ID] = c
		default:
			return fmt.Errorf("%w: unknown record type %d", openbagerrors.ErrIO, rt)
		}
	}

	return nil
}

func decodeSchema(payload []byte) (Schema, error) {
	r := bytes.NewReader(payload)
	id, err := readUint32(r)
	if err != nil {
		return Schema{}, err
	}
	name, err := readString(r)
	if err != nil {
		return Schema{}, err
	}
	encoding, err := readString(r)
	if err != nil {
		return Schema{}, err
	}
	data, err := readBytes(r)
	if err != nil {
		return Schema{}, err
	}
	return Schema{ID: id, Name: name, Encoding: encoding, Data: data}, nil
}

func decodeChannel(payload []byte) (Channel, error) {
	r := bytes.NewReader(payload)
	id, err := readUint32(r)
	if err != nil {
		return Channel{}, err
	}
	topic, err := readString(r)
	if err != nil {
		return Channel{}, err
	}
	encoding, err := readString(r)
	if err != nil {
		return Channel{}, err
	}
	schemaID, err := readUint32(r)
	if err != nil {
		return Channel{}, err
	}
	metadata, err := readMetadata(r)
	if err != nil {
		return Channel{}, err
	}
	return Channel{ID: id, Topic: topic, MessageEncoding: encoding, SchemaID: schemaID, Metadata: metadata}, nil
}

// Schemas returns every schema registered in the file, in registration order.
func (r *Reader) Schemas() []Schema { return r.schemas }

// Channels returns every channel registered in the file, in registration order.
func (r *Reader) Channels() []Channel { return r.channels }

// ChannelByID looks up a channel by its in-file ID.
func (r *Reader) ChannelByID(id uint32) (Channel, bool) {
	c, ok := r.channelByID[id]
	return c, ok
}

// Topics returns the distinct topic names carried by this file's channels.
func (r *Reader) Topics() []string {
	seen := make(map[string]bool, len(r.channels))
	topics := make([]string, 0, len(r.channels))
	for _, c := range r.channels {
		if !seen[c.Topic] {
			seen[c.Topic] = true
			topics = append(topics, c.Topic)
		}
	}
	return topics
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Messages returns a fresh lazy iterator over every message record in the
// file, in on-disk (chunk) order. Only one chunk's worth of records is held
// in memory at a time.
func (r *Reader) Messages() *MessageIterator {
	return &MessageIterator{reader: r}
}

// MessageIterator streams message records one chunk at a time.
type MessageIterator struct {
	reader *Reader

	chunkIdx int
	current  []Record
	pos      int

	rec Record
	err error
}

// Next advances to the next record, loading and decompressing the next
// chunk as needed. It returns false at end of stream or on error; check
// Err to distinguish the two.
func (it *MessageIterator) Next() bool {
	for it.pos >= len(it.current) {
		if it.chunkIdx >= len(it.reader.chunkSpans) {
			return false
		}
		span := it.reader.chunkSpans[it.chunkIdx]
		it.chunkIdx++

		records, err := it.reader.readChunk(span)
		if err != nil {
			it.err = err
			return false
		}
		it.current = records
		it.pos = 0
	}

	it.rec = it.current[it.pos]
	it.pos++
	return true
}

// Record returns the record most recently yielded by Next.
func (it *MessageIterator) Record() Record { return it.rec }

// Err returns the error that stopped iteration, if any.
func (it *MessageIterator) Err() error { return it.err }

func (r *Reader) readChunk(span chunkSpan) ([]Record, error) {
	buf := make([]byte, span.length)
	if _, err := r.f.ReadAt(buf, span.offset); err != nil {
		return nil, fmt.Errorf("%w: read chunk: %v", openbagerrors.ErrIO, err)
	}

	br := bytes.NewReader(buf)
	codec, err := readString(br)
	if err != nil {
		return nil, err
	}
	rawSize, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	compressed := make([]byte, br.Len())
	if _, err := io.ReadFull(br, compressed); err != nil {
		return nil, err
	}

	raw, err := decompress(compressed, Compression(codec))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress chunk: %v", openbagerrors.ErrIO, err)
	}
	if uint32(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: chunk size mismatch: got %d, want %d", openbagerrors.ErrIO, len(raw), rawSize)
	}

	var records []Record
	rr := bytes.NewReader(raw)
	for rr.Len() > 0 {
		recLen, err := readUint32(rr)
		if err != nil {
			return nil, err
		}
		recBuf := make([]byte, recLen)
		if _, err := io.ReadFull(rr, recBuf); err != nil {
			return nil, err
		}

		mr := bytes.NewReader(recBuf)
		channelID, err := readUint32(mr)
		if err != nil {
			return nil, err
		}
		sequence, err := readUint64(mr)
		if err != nil {
			return nil, err
		}
		logTimeNs, err := readUint64(mr)
		if err != nil {
			return nil, err
		}
		publishTimeNs, err := readUint64(mr)
		if err != nil {
			return nil, err
		}
		data, err := readBytes(mr)
		if err != nil {
			return nil, err
		}

		records = append(records, Record{
			ChannelID:     channelID,
			Sequence:      sequence,
			LogTimeNs:     logTimeNs,
			PublishTimeNs: publishTimeNs,
			Data:          data,
		})
	}

	return records, nil
}
