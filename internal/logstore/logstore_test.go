package logstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultWriterOptions()
	opts.ChunkSize = 8 // force multiple chunks for a handful of tiny records
	w := NewWriter(dir, "test", "mcap", FormatMCAP, opts)
	if err := w.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	schemaID, err := w.AddSchema("pkg.Type", "protobuf", []byte("descriptor-bytes"))
	if err != nil {
		t.Fatalf("AddSchema: %v", err)
	}
	channelID, err := w.AddChannel("t", "protobuf", schemaID, map[string]string{"message_type": "pkg.Type"})
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	payloads := [][]byte{[]byte("A"), []byte("B"), []byte("C")}
	for i, p := range payloads {
		ts := uint64((i + 1) * 1_000_000_000)
		if err := w.Write(channelID, uint64(i), ts, ts, p); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	filename := w.FileInfo().CurrentFilename
	r, err := Open(filename)
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}
	defer r.Close()

	if len(r.Schemas()) != 1 || r.Schemas()[0].Name != "pkg.Type" {
		t.Fatalf("Schemas() = %+v", r.Schemas())
	}
	if len(r.Channels()) != 1 || r.Channels()[0].Topic != "t" {
		t.Fatalf("Channels() = %+v", r.Channels())
	}

	it := r.Messages()
	var got [][]byte
	for it.Next() {
		got = append(got, it.Record().Data)
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
	if len(got) != len(payloads) {
		t.Fatalf("got %d records, want %d", len(got), len(payloads))
	}
	for i, p := range payloads {
		if string(got[i]) != string(p) {
			t.Errorf("record %d = %q, want %q", i, got[i], p)
		}
	}
}

func TestWriter_CompressionRoundTrip(t *testing.T) {
	for _, codec := range []Compression{CompressionNone, CompressionLz4, CompressionZstd} {
		t.Run(string(codec), func(t *testing.T) {
			dir := t.TempDir()
			opts := DefaultWriterOptions()
			opts.Compression = codec
			opts.ChunkSize = 4096

			w := NewWriter(dir, "test", "mcap", FormatMCAP, opts)
			if err := w.Open(); err != nil {
				t.Fatalf("Open: %v", err)
			}
			schemaID, _ := w.AddSchema("pkg.Type", "protobuf", []byte("desc"))
			channelID, _ := w.AddChannel("t", "protobuf", schemaID, nil)
			for i := 0; i < 20; i++ {
				if err := w.Write(channelID, uint64(i), uint64(i), uint64(i), []byte("payload-data")); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			r, err := Open(w.FileInfo().CurrentFilename)
			if err != nil {
				t.Fatalf("Open reader: %v", err)
			}
			defer r.Close()

			count := 0
			it := r.Messages()
			for it.Next() {
				count++
				if string(it.Record().Data) != "payload-data" {
					t.Errorf("record %d payload mismatch", count)
				}
			}
			if it.Err() != nil {
				t.Fatalf("iterator error: %v", it.Err())
			}
			if count != 20 {
				t.Fatalf("got %d records, want 20", count)
			}
		})
	}
}

func TestWriter_RotationContinuity(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultWriterOptions()
	opts.ChunkSize = 64
	opts.MaxFileSize = 512
	opts.SplitBySize = true

	w := NewWriter(dir, "rot", "mcap", FormatMCAP, opts)
	if err := w.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	schemaID, _ := w.AddSchema("pkg.Type", "protobuf", []byte("desc"))
	channelID, _ := w.AddChannel("t", "protobuf", schemaID, nil)

	total := 200
	for i := 0; i < total; i++ {
		payload := make([]byte, 10)
		if err := w.Write(channelID, uint64(i), uint64(i), uint64(i), payload); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected >= 2 rotated files, got %d", len(entries))
	}

	var gotSequences []uint64
	for _, e := range entries {
		r, err := Open(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("Open %s: %v", e.Name(), err)
		}
		if len(r.Schemas()) != 1 {
			t.Errorf("%s: expected 1 schema, got %d", e.Name(), len(r.Schemas()))
		}
		if len(r.Channels()) != 1 {
			t.Errorf("%s: expected 1 channel, got %d", e.Name(), len(r.Channels()))
		}
		it := r.Messages()
		for it.Next() {
			gotSequences = append(gotSequences, it.Record().Sequence)
		}
		if it.Err() != nil {
			t.Fatalf("%s: iterator error: %v", e.Name(), it.Err())
		}
		r.Close()
	}

	if len(gotSequences) != total {
		t.Fatalf("got %d total records across files, want %d", len(gotSequences), total)
	}
	for i, seq := range gotSequences {
		if seq != uint64(i) {
			t.Fatalf("sequence[%d] = %d, want %d (order must be preserved)", i, seq, i)
		}
	}
}

func TestWriter_EmptyRunProducesSchemaAndChannelOnly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "empty", "mcap", FormatMCAP, DefaultWriterOptions())
	if err := w.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	schemaID, _ := w.AddSchema("pkg.Type", "protobuf", []byte("desc"))
	if _, err := w.AddChannel("t", "protobuf", schemaID, nil); err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(w.FileInfo().CurrentFilename)
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}
	defer r.Close()

	if len(r.Schemas()) != 1 {
		t.Errorf("expected 1 schema, got %d", len(r.Schemas()))
	}
	if len(r.Channels()) != 1 {
		t.Errorf("expected 1 channel, got %d", len(r.Channels()))
	}

	it := r.Messages()
	if it.Next() {
		t.Errorf("expected no message records")
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
}
