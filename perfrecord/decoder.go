/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package perfrecord // import "github.com/elastic/otel-profiling-report/perfrecord"

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	perf "github.com/elastic/go-perf"
)

// magic identifies this container format, in the spirit of zstpak's 8-byte
// file magic (tools/zstpak/lib/zstpak.go in the sibling agent).
const magic = "PROFREP1"

// Codec selects the compression applied to the record body, so large
// recordings can be shipped zstd-compressed without the engine itself
// having to know about it.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
)

// header is gob-encoded once at the start of the file. There is no
// off-the-shelf library in this repository's dependency set for a bespoke
// framing format like this one — elastic/go-perf targets live
// perf_event_open ring buffers, not a persisted multi-record container —
// so the header and per-record framing use encoding/gob directly.
type header struct {
	Cmdline     []string
	Arch        string
	Attrs       []attrWire
	Meta        MetaInfo
	TracingData []byte
	Codec       Codec
}

// attrWire is the gob-safe projection of AttrDescriptor: perf.Attr is
// copied by value across the wire and re-pointered on decode.
type attrWire struct {
	Attr perf.Attr
	Name string
}

// Reader decodes a record file written by Writer. It is not safe for
// concurrent use; the report engine's ingestion loop is single-threaded by
// design (spec.md section 5) and never needs it to be.
type Reader struct {
	rc      io.Closer
	dec     *gob.Decoder
	cmdline []string
	arch    string
	attrs   []AttrDescriptor
	meta    MetaInfo
	tracing []byte
}

// NewReader opens a record stream. f is closed by Reader.Close.
func NewReader(f io.ReadCloser) (*Reader, error) {
	buffered := bufio.NewReader(f)

	var magicBuf [8]byte
	if _, err := io.ReadFull(buffered, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("read record file magic: %w", err)
	}
	if string(magicBuf[:]) != magic {
		return nil, fmt.Errorf("not a report-engine record file (bad magic %q)", magicBuf[:])
	}

	headerDec := gob.NewDecoder(buffered)
	var hdr header
	if err := headerDec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("decode record file header: %w", err)
	}

	var body io.Reader = buffered
	var zr *zstd.Decoder
	closer := io.Closer(f)
	if hdr.Codec == CodecZstd {
		var err error
		zr, err = zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("open zstd record body: %w", err)
		}
		body = zr
		closer = closerFunc(func() error {
			zr.Close()
			return f.Close()
		})
	}

	attrs := make([]AttrDescriptor, len(hdr.Attrs))
	for i := range hdr.Attrs {
		a := hdr.Attrs[i].Attr
		attrs[i] = AttrDescriptor{Attr: &a, Name: hdr.Attrs[i].Name}
	}

	return &Reader{
		rc:      closer,
		dec:     gob.NewDecoder(body),
		cmdline: hdr.Cmdline,
		arch:    hdr.Arch,
		attrs:   attrs,
		meta:    hdr.Meta,
		tracing: hdr.TracingData,
	}, nil
}

// Cmdline returns the recorded command line, printed verbatim in the
// report's "Cmdline:" header.
func (r *Reader) Cmdline() []string { return r.cmdline }

// Arch returns the recorded architecture string.
func (r *Reader) Arch() string { return r.arch }

// Attrs returns the attribute table: one descriptor per configured event,
// indexed the same way SampleRecord.AttrIndex indexes into it.
func (r *Reader) Attrs() []AttrDescriptor { return r.attrs }

// Meta returns the record file's meta-info map.
func (r *Reader) Meta() MetaInfo { return r.meta }

// TracingData returns the raw tracing-metadata blob, or nil if none was
// recorded.
func (r *Reader) TracingData() []byte { return r.tracing }

// wireRecord is the on-disk envelope for a single record: exactly one of
// its fields is non-nil, selected by Type.
type wireRecord struct {
	Type   RecordType
	Sample *SampleRecord
	MMap   *MMapRecord
	Comm   *CommRecord
	Tracer *TracingDataRecord
	Coment *CommentRecord
	Lost   *LostRecord
}

// Next decodes the next record, returning io.EOF once the stream is
// exhausted. A decode error here is an Input-class error per spec.md
// section 7 and must abort ingestion.
func (r *Reader) Next() (Record, error) {
	var w wireRecord
	if err := r.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode record: %w", err)
	}
	switch w.Type {
	case RecordSample:
		return w.Sample, nil
	case RecordMMap:
		return w.MMap, nil
	case RecordComm:
		return w.Comm, nil
	case RecordTracingData:
		return w.Tracer, nil
	case RecordComment:
		return w.Coment, nil
	case RecordLost:
		return w.Lost, nil
	default:
		return nil, fmt.Errorf("decode record: unknown record type %d", w.Type)
	}
}

// Close releases the underlying file handle (and zstd decoder, if any).
func (r *Reader) Close() error {
	return r.rc.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
