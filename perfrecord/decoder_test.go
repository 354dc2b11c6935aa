/*
 * Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
 * or more contributor license agreements. Licensed under the Apache License 2.0.
 * See the file "LICENSE" for details.
 */

package perfrecord

import (
	"bytes"
	"io"
	"testing"

	perf "github.com/elastic/go-perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	attr := perf.Attr{}
	w, err := NewWriter(nopWriteCloser{&buf}, WriterOptions{
		Cmdline: []string{"prog", "-a"},
		Arch:    "x86_64",
		Attrs:   []AttrDescriptor{{Attr: &attr, Name: "cpu-clock"}},
		Meta:    MetaInfo{"trace_offcpu": "false"},
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteComm(&CommRecord{PID: 1, TID: 1, Comm: "worker"}))
	require.NoError(t, w.WriteMMap(&MMapRecord{PID: 1, TID: 1, Addr: 0x1000, Len: 0x1000, Filename: "/bin/worker"}))
	require.NoError(t, w.WriteSample(&SampleRecord{AttrIndex: 0, PID: 1, TID: 1, IP: 0x1010, Period: 7}))
	require.NoError(t, w.WriteLost(&LostRecord{Count: 2}))
	require.NoError(t, w.Close())

	r, err := NewReader(nopReadCloser{bytes.NewReader(buf.Bytes())})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"prog", "-a"}, r.Cmdline())
	assert.Equal(t, "x86_64", r.Arch())
	require.Len(t, r.Attrs(), 1)
	assert.Equal(t, "cpu-clock", r.Attrs()[0].Name)
	assert.False(t, r.Meta().TraceOffCPU())

	var got []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 4)
	assert.Equal(t, RecordComm, got[0].Type())
	assert.Equal(t, RecordMMap, got[1].Type())
	assert.Equal(t, RecordSample, got[2].Type())
	assert.Equal(t, RecordLost, got[3].Type())

	sample := got[2].(*SampleRecord)
	assert.Equal(t, uint64(7), sample.Period)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	_, err := NewReader(nopReadCloser{bytes.NewReader([]byte("not-a-record-file"))})
	assert.Error(t, err)
}

func TestZstdCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(nopWriteCloser{&buf}, WriterOptions{
		Arch:  "arm64",
		Codec: CodecZstd,
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteSample(&SampleRecord{AttrIndex: 0, Period: 1}))
	require.NoError(t, w.Close())

	r, err := NewReader(nopReadCloser{bytes.NewReader(buf.Bytes())})
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, RecordSample, rec.Type())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
