package exec

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/klauspost/compress/zstd"
)

// invDiskCache spills gob-encoded invocations to compressed files on
// the driver's disk so that large invocation arguments are encoded
// once, not once per worker machine.
type invDiskCache struct {
	mu    sync.Mutex
	dir   string
	paths map[uint64]string
}

func newInvDiskCache() *invDiskCache {
	return &invDiskCache{paths: make(map[uint64]string)}
}

// initLocked creates the cache directory lazily. The caller must hold
// c.mu.
func (c *invDiskCache) initLocked() error {
	if c.dir != "" {
		return nil
	}
	dir, err := ioutil.TempDir("", "bigframe-inv-cache")
	if err != nil {
		return errors.E(err, "bigframe: could not create invocation disk cache")
	}
	c.dir = dir
	return nil
}

func (c *invDiskCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	must.Truef(c.paths != nil, "multiple close")
	if err := os.RemoveAll(c.dir); err != nil {
		log.Printf("WARNING: error discarding bigframe invocation disk cache: %v", err)
	}
	c.paths = nil
}

// getOrCreate returns a reader for the cached invocation, invoking
// create to populate the cache entry on first use. Access is
// serialized.
func (c *invDiskCache) getOrCreate(invIndex uint64, create func(io.Writer) error) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	must.Truef(c.paths != nil, "call after close")
	if err := c.initLocked(); err != nil {
		return nil, err
	}
	if _, ok := c.paths[invIndex]; !ok {
		entry := filepath.Join(c.dir, strconv.FormatUint(invIndex, 10))
		if err := writeZstdFile(entry, create); err != nil {
			return nil, errors.E(err, "bigframe: could not create invocation disk cache entry")
		}
		c.paths[invIndex] = entry
	}
	f, err := os.Open(c.paths[invIndex])
	if err != nil {
		return nil, errors.E(err, "bigframe: could not open invocation disk cache entry")
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "bigframe: could not open (zstd) invocation disk cache entry")
	}
	return &zstdReadCloser{dec: dec, file: f}, nil
}

func writeZstdFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	err = write(enc)
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r *zstdReadCloser) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *zstdReadCloser) Close() error {
	r.dec.Close()
	return r.file.Close()
}
