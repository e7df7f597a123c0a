package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

const (
	flagTombstone = 1 << 0

	// maxFieldSize bounds a single key or value read off the wire.
	maxFieldSize = 64 << 20
)

// Record wire layout, inside a snappy framed stream:
//
//	flags   byte
//	keyLen  uvarint, key bytes
//	valLen  uvarint, value bytes (absent for tombstones)

// RecordWriter encodes records onto a compressed stream.
type RecordWriter struct {
	w   *snappy.Writer
	buf []byte
	n   int
}

// NewRecordWriter returns a writer that compresses onto w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: snappy.NewBufferedWriter(w)}
}

// Write encodes one record.
func (rw *RecordWriter) Write(rec Record) error {
	buf := rw.buf[:0]
	var flags byte
	if rec.Tombstone {
		flags |= flagTombstone
	}
	buf = append(buf, flags)
	buf = binary.AppendUvarint(buf, uint64(len(rec.Key)))
	buf = append(buf, rec.Key...)
	if !rec.Tombstone {
		buf = binary.AppendUvarint(buf, uint64(len(rec.Value)))
		buf = append(buf, rec.Value...)
	}
	rw.buf = buf

	if _, err := rw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	rw.n++
	return nil
}

// Count returns the number of records written.
func (rw *RecordWriter) Count() int {
	return rw.n
}

// Flush pushes buffered records to the underlying writer.
func (rw *RecordWriter) Flush() error {
	return rw.w.Flush()
}

// Close flushes. It does not close the underlying writer.
func (rw *RecordWriter) Close() error {
	return rw.w.Close()
}

// StreamReader decodes records written by RecordWriter. It implements
// RecordReader.
type StreamReader struct {
	r *bufio.Reader
}

// NewStreamReader reads a compressed record stream from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(snappy.NewReader(r))}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (sr *StreamReader) Next() (Record, error) {
	flags, err := sr.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read record header: %w", err)
	}

	key, err := sr.readField()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record key: %w", err)
	}
	rec := Record{Key: string(key), Tombstone: flags&flagTombstone != 0}
	if rec.Tombstone {
		return rec, nil
	}

	rec.Value, err = sr.readField()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record value: %w", err)
	}
	return rec, nil
}

func (sr *StreamReader) readField() ([]byte, error) {
	n, err := binary.ReadUvarint(sr.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	if n > maxFieldSize {
		return nil, fmt.Errorf("field of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(sr.r, data); err != nil {
		return nil, unexpectedEOF(err)
	}
	return data, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// SliceReader is a RecordReader over an in-memory slice.
type SliceReader struct {
	records []Record
	pos     int
}

// NewSliceReader returns a reader over records.
func NewSliceReader(records []Record) *SliceReader {
	return &SliceReader{records: records}
}

func (s *SliceReader) Next() (Record, error) {
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
