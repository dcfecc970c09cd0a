// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	var (
		ctx  = context.Background()
		task = TaskName{Op: "store-test", Part: 0, NumPart: 3}
		fz   = fuzz.New()
		data []byte
	)
	fz.NumElements(1e3, 1e6)
	fz.Fuzz(&data)

	wc, err := store.Create(ctx, task, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	// Uncommitted writes must not be readable.
	if _, err := store.Open(ctx, task, 0, 0); err == nil {
		t.Error("opened uncommitted partition")
	} else if !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
	const nrecords = 999
	if err := wc.Commit(ctx, nrecords); err != nil {
		t.Fatal(err)
	}

	info, err := store.Stat(ctx, task, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Size, int64(len(data)); got != want {
		t.Errorf("stat size: got %v, want %v", got, want)
	}
	if got, want := info.Records, int64(nrecords); got != want {
		t.Errorf("stat records: got %v, want %v", got, want)
	}

	readFrom := func(offset int64) []byte {
		t.Helper()
		rc, err := store.Open(ctx, task, 0, offset)
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		p, err := ioutil.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	if got := readFrom(0); !bytes.Equal(got, data) {
		t.Error("read returned wrong data")
	}
	// Resumed reads pick up mid-stream.
	half := int64(len(data) / 2)
	if got := readFrom(half); !bytes.Equal(got, data[half:]) {
		t.Error("offset read returned wrong data")
	}

	// Discarding a partition that was never stored reports an error and
	// leaves stored partitions alone.
	if err := store.Discard(ctx, task, 2); err == nil {
		t.Error("expected error discarding nonexistent partition")
	}
	readFrom(0)
	if err := store.Discard(ctx, task, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Open(ctx, task, 0, 0); err == nil {
		t.Error("opened discarded partition")
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, newMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	testStore(t, &fileStore{Prefix: dir})
}
