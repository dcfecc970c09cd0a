// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
)

// A taskBuffer holds the output of a task in memory, one chunk list
// per partition. Each chunk is a columnar frame, so reads out of a
// taskBuffer can be served without copying row by row.
type taskBuffer [][]frame.Frame

// Slice returns the chunk containing the given row offset within the
// provided partition, together with the chunk-relative offset of that
// row. A returned offset of -1 indicates that off is past the end of
// the partition.
//
// TODO(marius): aggregate chunk lengths so lookup can binary search
// instead of walking the chunk list.
func (b taskBuffer) Slice(partition, off int) (frame.Frame, int) {
	var n int
	for _, f := range b[partition] {
		if l := f.Len(); n+l > off {
			return f, off - n
		} else {
			n += l
		}
	}
	return frame.Frame{}, -1
}

// Reader returns a Reader that reads a single partition of the
// taskBuffer.
func (b taskBuffer) Reader(partition int) frameio.Reader {
	if len(b) == 0 {
		return frameio.EmptyReader{}
	}
	return &taskBufferReader{chunks: b[partition]}
}

// A taskBufferReader reads a single partition's chunk list in order,
// copying as many rows into the caller's frame as fit.
type taskBufferReader struct {
	chunks []frame.Frame
	// off is the read position within chunks[0].
	off int
}

func (r *taskBufferReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	for len(r.chunks) > 0 && r.chunks[0].Len() == r.off {
		r.chunks = r.chunks[1:]
		r.off = 0
	}
	if len(r.chunks) == 0 {
		return 0, frameio.EOF
	}
	chunk := r.chunks[0]
	n := out.Len()
	if m := chunk.Len() - r.off; m < n {
		n = m
	}
	frame.Copy(out, chunk.Slice(r.off, r.off+n))
	r.off += n
	return n, nil
}
