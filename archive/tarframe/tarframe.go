// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tarframe implements bigframe operations for reading tar archives.
package tarframe

import (
	"archive/tar"
	"io"
	"io/ioutil"
	"reflect"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/frametype"
)

// EntryType is the schema of frames returned by Reader: one row per
// archive member, carrying its name, size, and full contents.
var EntryType = frametype.New(
	frametype.Field{Name: "name", Type: reflect.TypeOf("")},
	frametype.Field{Name: "size", Type: reflect.TypeOf(int64(0))},
	frametype.Field{Name: "body", Type: reflect.TypeOf([]byte{})},
)

// Reader returns a frame of entries representing the tar archive of
// the io.ReadCloser returned by the archive func. The frame is
// partitioned nparts ways, striped across entries. Note that the
// archive is read fully for each partition produced.
func Reader(nparts int, archive func() (io.ReadCloser, error)) bigframe.DataFrame {
	type state struct {
		*tar.Reader
		io.Closer
	}
	return bigframe.ReaderFunc(nparts, EntryType, func(part int, state *state, names []string, sizes []int64, bodies [][]byte) (n int, err error) {
		first := state.Reader == nil
		defer func() {
			if err != nil && state.Closer != nil {
				state.Close()
			}
		}()
		if first {
			rc, err := archive()
			if err != nil {
				return 0, err
			}
			state.Reader = tar.NewReader(rc)
			state.Closer = rc
			if err := skip(state.Reader, part); err != nil {
				return 0, err
			}
		}
		for i := range names {
			if !first || i > 0 {
				if err := skip(state.Reader, nparts-1); err != nil {
					return i, err
				}
			}
			head, err := state.Next()
			if err != nil {
				if err == io.EOF {
					err = frameio.EOF
				}
				return i, err
			}
			names[i] = head.Name
			sizes[i] = head.Size
			bodies[i], err = ioutil.ReadAll(state)
			if err != nil {
				return i, err
			}
		}
		return len(names), nil
	})
}

func skip(r *tar.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.Next(); err != nil {
			if err == io.EOF {
				return frameio.EOF
			}
			return err
		}
	}
	return nil
}
