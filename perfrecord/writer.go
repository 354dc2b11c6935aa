/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package perfrecord // import "github.com/elastic/otel-profiling-report/perfrecord"

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Writer produces a record file readable by Reader. There is no recorder
// in scope for this repository (spec.md's Non-goals exclude recording
// samples); Writer exists so this repository's own tests can synthesize
// record files instead of depending on a live capture pipeline.
type Writer struct {
	w      io.WriteCloser
	enc    *gob.Encoder
	zw     *zstd.Encoder
	closed bool
}

// WriterOptions configures header fields and the wire codec.
type WriterOptions struct {
	Cmdline     []string
	Arch        string
	Attrs       []AttrDescriptor
	Meta        MetaInfo
	TracingData []byte
	Codec       Codec
}

// NewWriter writes the header immediately and returns a Writer ready to
// accept records.
func NewWriter(w io.WriteCloser, opts WriterOptions) (*Writer, error) {
	if _, err := w.Write([]byte(magic)); err != nil {
		return nil, fmt.Errorf("write record file magic: %w", err)
	}

	attrs := make([]attrWire, len(opts.Attrs))
	for i, a := range opts.Attrs {
		aw := attrWire{Name: a.Name}
		if a.Attr != nil {
			aw.Attr = *a.Attr
		}
		attrs[i] = aw
	}

	hdr := header{
		Cmdline:     opts.Cmdline,
		Arch:        opts.Arch,
		Attrs:       attrs,
		Meta:        opts.Meta,
		TracingData: opts.TracingData,
		Codec:       opts.Codec,
	}
	if err := gob.NewEncoder(w).Encode(&hdr); err != nil {
		return nil, fmt.Errorf("write record file header: %w", err)
	}

	res := &Writer{w: w}
	var body io.Writer = w
	if opts.Codec == CodecZstd {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("open zstd record body: %w", err)
		}
		res.zw = zw
		body = zw
	}
	res.enc = gob.NewEncoder(body)
	return res, nil
}

func (w *Writer) write(rec wireRecord) error {
	if err := w.enc.Encode(&rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (w *Writer) WriteSample(r *SampleRecord) error {
	return w.write(wireRecord{Type: RecordSample, Sample: r})
}

func (w *Writer) WriteMMap(r *MMapRecord) error {
	return w.write(wireRecord{Type: RecordMMap, MMap: r})
}

func (w *Writer) WriteComm(r *CommRecord) error {
	return w.write(wireRecord{Type: RecordComm, Comm: r})
}

func (w *Writer) WriteTracingData(r *TracingDataRecord) error {
	return w.write(wireRecord{Type: RecordTracingData, Tracer: r})
}

func (w *Writer) WriteComment(r *CommentRecord) error {
	return w.write(wireRecord{Type: RecordComment, Coment: r})
}

func (w *Writer) WriteLost(r *LostRecord) error {
	return w.write(wireRecord{Type: RecordLost, Lost: r})
}

// Close flushes and closes the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("close zstd record body: %w", err)
		}
	}
	return w.w.Close()
}
