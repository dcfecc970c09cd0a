// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tarframe_test

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"sort"
	"testing"

	"github.com/grailbio/base/must"
	"github.com/grailbio/bigframe/archive/tarframe"
	"github.com/grailbio/bigframe/frametest"
)

func testArchive(n int) func() (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)

	rnd := rand.New(rand.NewSource(1))
	p := make([]byte, 256)
	for i := 0; i < n; i++ {
		sz := rnd.Intn(256)
		must.Nil(w.WriteHeader(&tar.Header{
			Name: fmt.Sprintf("%03d", i),
			Size: int64(sz),
		}))
		for j := 0; j < sz; j++ {
			p[j] = byte(sz)
		}
		_, err := w.Write(p[:sz])
		must.Nil(err)
	}
	must.Nil(w.Close())
	return func() (io.ReadCloser, error) { return ioutil.NopCloser(bytes.NewReader(buf.Bytes())), nil }
}

func TestReader(t *testing.T) {
	const N = 1000
	df := tarframe.Reader(10, testArchive(N))
	if got, want := df.NumPart(), 10; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var (
		names  []string
		sizes  []int64
		bodies [][]byte
	)
	frametest.RunAndScan(t, df, &names, &sizes, &bodies)
	if got, want := len(names), N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	rows := make([]int, N)
	for i := range rows {
		rows[i] = i
	}
	sort.Slice(rows, func(i, j int) bool { return names[rows[i]] < names[rows[j]] })
	for i, row := range rows {
		if got, want := names[row], fmt.Sprintf("%03d", i); got != want {
			t.Errorf("entry %d: got name %v, want %v", i, got, want)
		}
		if got, want := sizes[row], int64(len(bodies[row])); got != want {
			t.Errorf("entry %d: got size %v, want %v", i, got, want)
		}
		n := len(bodies[row])
		for _, b := range bodies[row] {
			if got, want := b, byte(n); got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	}
}
