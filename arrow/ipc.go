package arrow

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrNoRecords is returned when a stream or input slice holds no records.
var ErrNoRecords = errors.New("no records in IPC data")

// Codec reads and writes Arrow IPC streams.
type Codec struct {
	allocator memory.Allocator
}

// NewCodec creates a Codec backed by mem. A nil mem uses the default
// allocator.
func NewCodec(mem memory.Allocator) *Codec {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Codec{allocator: mem}
}

// Encode serializes one record, schema included.
func (c *Codec) Encode(record arrow.Record) ([]byte, error) {
	return c.EncodeAll([]arrow.Record{record})
}

// EncodeAll serializes records sharing the first record's schema into a
// single stream.
func (c *Codec) EncodeAll(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 || records[0] == nil {
		return nil, ErrNoRecords
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode returns the first record in data. The caller must Release it.
func (c *Codec) Decode(data []byte) (arrow.Record, error) {
	records, err := c.DecodeAll(data)
	if err != nil {
		return nil, err
	}
	for _, r := range records[1:] {
		r.Release()
	}
	return records[0], nil
}

// DecodeAll returns every record in data. The caller must Release each.
func (c *Codec) DecodeAll(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	return records, nil
}
