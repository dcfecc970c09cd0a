// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
)

type fileFrame struct {
	DataFrame
	prefix string
}

func (f *fileFrame) Op() string  { return fmt.Sprintf("file(%s)", f.prefix) }
func (*fileFrame) NumDep() int   { return 0 }
func (*fileFrame) Dep(i int) Dep { panic("no deps") }

type fileReader struct {
	frameio.Reader
	file file.File
	path string
}

func (f *fileReader) Read(ctx context.Context, frame frame.Frame) (int, error) {
	if f.file == nil {
		var err error
		f.file, err = file.Open(ctx, f.path)
		if err != nil {
			return 0, err
		}
		f.Reader = frameio.NewDecodingReader(f.file.Reader(context.Background()))
	}
	n, err := f.Reader.Read(ctx, frame)
	if err != nil {
		if err := f.file.Close(ctx); err != nil {
			log.Error.Printf("%s: close: %v", f.file.Name(), err)
		}
	}
	return n, err
}

func (f *fileFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &fileReader{path: partPath(f.prefix, part, f.NumPart())}
}

type writethroughFrame struct {
	DataFrame
	prefix string
}

func (w *writethroughFrame) Op() string { return "writethrough" }

type writethroughReader struct {
	frameio.Reader
	path string
	file file.File
	enc  *frameio.Encoder
}

func (r *writethroughReader) Read(ctx context.Context, frame frame.Frame) (int, error) {
	if r.file == nil {
		var err error
		r.file, err = file.Create(ctx, r.path)
		if err != nil {
			return 0, err
		}
		// Ideally we'd use the underlying context for each op here,
		// but the way encoder is set up, we can't (understandably)
		// pass a new writer for each encode.
		r.enc = frameio.NewEncoder(r.file.Writer(context.Background()))
	}
	n, err := r.Reader.Read(ctx, frame)
	if err == nil || err == frameio.EOF {
		if err := r.enc.Encode(frame.Slice(0, n)); err != nil {
			return n, err
		}
		if err == frameio.EOF {
			if err := r.file.Close(ctx); err != nil {
				return n, err
			}
		}
	} else {
		r.file.Discard(context.Background())
	}
	return n, err
}

// IsWriteThrough is used for testing.
func (w *writethroughFrame) IsWriteThrough() {}

func (w *writethroughFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &writethroughReader{
		Reader: w.DataFrame.Reader(part, deps),
		path:   partPath(w.prefix, part, w.NumPart()),
	}
}

// Cache caches the output of a dataframe to the given file prefix.
// Cached data are stored as "prefix-nnnn-of-mmmm" for partitions nnnn
// of mmmm. When the dataframe is computed, each partition is encoded
// and written to a separate file with this prefix. If all partitions
// exist, then Cache shortcuts computation and instead reads directly
// from the previously computed output. The user must guarantee cache
// consistency: if the cache could be invalid (e.g., because of
// code changes), the user is responsible for removing existing
// cached files, or picking a different prefix that correctly
// represents the operation to be cached.
//
// Cache uses GRAIL's file library, so prefix may refer to URLs to a
// distributed object store such as S3.
func Cache(ctx context.Context, df DataFrame, prefix string) (DataFrame, error) {
	m := df.NumPart()
	_, err := file.Stat(ctx, partPath(prefix, 0, m))
	if err == nil {
		// Make sure the remaining partitions are also there.
		err = traverse.Each(m-1, func(i int) error {
			_, err := file.Stat(ctx, partPath(prefix, i+1, m))
			return err
		})
	}
	if err == nil {
		return &fileFrame{DataFrame: df, prefix: prefix}, nil
	}
	if !errors.Is(errors.NotExist, err) {
		return nil, err
	}
	return &writethroughFrame{df, prefix}, nil
}

func partPath(prefix string, n, m int) string {
	return fmt.Sprintf("%s-%04d-of-%04d", prefix, n, m)
}
