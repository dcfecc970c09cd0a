// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frameio

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"reflect"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frametype"
)

// An Encoder manages transmission of frames through an underlying
// io.Writer. The stream of records is represented by batches of rows
// stored in column-major order, each batch followed by a checksum of
// its encoding. Streams can be read by a decoding Reader.
type Encoder struct {
	enc *gob.Encoder
	crc hash.Hash32
}

// NewEncoder returns a new Encoder that streams frames into the
// provided writer.
func NewEncoder(w io.Writer) *Encoder {
	crc := crc32.NewIEEE()
	return &Encoder{
		enc: gob.NewEncoder(io.MultiWriter(w, crc)),
		crc: crc,
	}
}

// Encode encodes a batch of rows and writes the encoded output into
// the encoder's writer.
func (e *Encoder) Encode(f frame.Frame) error {
	e.crc.Reset()
	if err := e.enc.Encode(f.Len()); err != nil {
		return err
	}
	for col := 0; col < f.NumOut(); col++ {
		if err := e.enc.EncodeValue(f.Value(col)); err != nil {
			// Here we're encoding a user-defined type. We pessimistically
			// attribute any errors that appear to come from gob as being
			// related to the inability to encode this user-defined type.
			if strings.HasPrefix(err.Error(), "gob: ") {
				err = errors.E(errors.Fatal, err)
			}
			return err
		}
	}
	return e.enc.Encode(e.crc.Sum32())
}

// EncodeAll reads frames of the provided schema from r, encoding
// each batch into enc until r is exhausted. It returns the number of
// rows encoded.
func EncodeAll(ctx context.Context, typ frametype.Type, r Reader, enc *Encoder) (int64, error) {
	var total int64
	in := frame.Make(typ, defaultChunksize, defaultChunksize)
	for {
		n, err := r.Read(ctx, in)
		if err != nil && err != EOF {
			return total, err
		}
		if n > 0 {
			if err := enc.Encode(in.Slice(0, n)); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if err == EOF {
			return total, nil
		}
	}
}

// decodingReader provides a Reader on top of a gob stream
// encoded with batches of rows stored in column-major order.
type decodingReader struct {
	dec *gob.Decoder
	crc hash.Hash32
	buf frame.Frame
	err error
}

// NewDecodingReader returns a new Reader that decodes values from
// the provided stream. Since values are streamed in vectors, the
// decoding reader must buffer values until they are read by the
// consumer. Columns are decoded according to the schema of the frame
// passed to Read.
func NewDecodingReader(r io.Reader) Reader {
	// We need to compute checksums by inspecting the underlying
	// bytestream, however, gob uses whether the reader implements
	// io.ByteReader as a proxy for whether the passed reader is
	// buffered. io.TeeReader does not implement io.ByteReader, and thus
	// gob.Decoder would insert a buffered reader leaving us without
	// means of synchronizing stream positions, required for
	// checksumming. Instead we fake an implementation of io.ByteReader,
	// and take over the responsibility of ensuring that IO is buffered.
	crc := crc32.NewIEEE()
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	r = io.TeeReader(r, crc)
	return &decodingReader{dec: gob.NewDecoder(readerByteReader{Reader: r}), crc: crc}
}

func (d *decodingReader) Read(ctx context.Context, f frame.Frame) (n int, err error) {
	if d.err != nil {
		return 0, d.err
	}
	for d.buf.Len() == 0 {
		d.crc.Reset()
		if d.err = d.dec.Decode(&n); d.err != nil {
			if d.err == io.EOF {
				d.err = EOF
			}
			return 0, d.err
		}
		if d.err = d.decode(f, n); d.err != nil {
			return 0, d.err
		}
	}
	n = frame.Copy(f, d.buf)
	d.buf = d.buf.Slice(n, d.buf.Len())
	return n, nil
}

// decode decodes a batch of n rows into the reader's buffer. Columns
// are decoded into freshly allocated slices so that gob never reuses
// prior batch memory.
func (d *decodingReader) decode(f frame.Frame, n int) error {
	cols := make([]reflect.Value, f.NumOut())
	for col := range cols {
		p := reflect.New(reflect.SliceOf(f.Out(col)))
		if err := d.dec.DecodeValue(p); err != nil {
			if err == io.EOF {
				return EOF
			}
			return err
		}
		if p.Elem().Len() != n {
			return errors.E(errors.Integrity,
				fmt.Errorf("batch of %d rows has column of length %d", n, p.Elem().Len()))
		}
		cols[col] = p.Elem()
	}
	sum := d.crc.Sum32()
	var decoded uint32
	if err := d.dec.Decode(&decoded); err != nil {
		return err
	}
	if sum != decoded {
		return errors.E(errors.Integrity,
			fmt.Errorf("computed checksum %x but expected checksum %x", sum, decoded))
	}
	d.buf = frame.Of(f.Type(), cols)
	return nil
}

// readerByteReader is used to provide an (invalid) implementation of
// io.ByteReader to gob.Decoder. See comment in NewDecodingReader
// for details.
type readerByteReader struct {
	io.Reader
	io.ByteReader
}
