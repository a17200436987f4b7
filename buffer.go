package entrycache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

const (
	dataSuffix     = ".data"
	downloadSuffix = ".download"
)

// dataFileName is the name of the committed body of key, relative to the data dir.
func dataFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + dataSuffix
}

// buffer accumulates a body in flight. It starts in memory and moves to a
// temporary file in dir once threshold is crossed, or from the first byte
// when toDisk is set. The move happens at most once and is never reversed.
type buffer struct {
	dir       string
	key       string
	threshold int64
	toDisk    bool

	mem  []byte
	file *os.File
	size int64
}

func newBuffer(dir, key string, threshold int64, toDisk bool) *buffer {
	return &buffer{dir: dir, key: key, threshold: threshold, toDisk: toDisk}
}

func (b *buffer) Len() int64 {
	return b.size
}

func (b *buffer) onDisk() bool {
	return b.file != nil
}

// Write appends p. A returned error is always a *WriteError, after which
// the buffer must be discarded.
func (b *buffer) Write(p []byte) error {
	if b.file == nil && (b.toDisk || b.size+int64(len(p)) > b.threshold) {
		if err := b.spill(); err != nil {
			return err
		}
	}
	if b.file != nil {
		if _, err := b.file.Write(p); err != nil {
			return &WriteError{Path: b.file.Name(), Err: err}
		}
	} else {
		b.mem = append(b.mem, p...)
	}
	b.size += int64(len(p))
	return nil
}

// spill moves the memory buffer into a new temporary file and releases it.
func (b *buffer) spill() error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return &WriteError{Path: b.dir, Err: err}
	}
	prefix := dataFileName(b.key)
	prefix = prefix[:len(prefix)-len(dataSuffix)] + "-*" + downloadSuffix
	f, err := os.CreateTemp(b.dir, prefix)
	if err != nil {
		return &WriteError{Path: filepath.Join(b.dir, prefix), Err: err}
	}
	b.file = f
	if len(b.mem) > 0 {
		if _, err := f.Write(b.mem); err != nil {
			return &WriteError{Path: f.Name(), Err: err}
		}
	}
	b.mem = nil
	return nil
}

// Snapshot returns a copy of the bytes received so far.
func (b *buffer) Snapshot() ([]byte, error) {
	if b.file == nil {
		return append([]byte(nil), b.mem...), nil
	}
	data := make([]byte, b.size)
	if _, err := b.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

// commit turns the buffer into a body. Disk buffers are synced and renamed
// to the entry's data file; the rename is what makes the body visible.
func (b *buffer) commit() (*body, error) {
	if b.file == nil && b.toDisk {
		if err := b.spill(); err != nil {
			b.discard()
			return nil, err
		}
	}
	if b.file == nil {
		return &body{data: b.mem, size: b.size}, nil
	}
	tmp := b.file.Name()
	final := filepath.Join(b.dir, dataFileName(b.key))
	if err := b.file.Sync(); err != nil {
		b.discard()
		return nil, &WriteError{Path: tmp, Err: err}
	}
	if err := b.file.Close(); err != nil {
		b.file = nil
		os.Remove(tmp)
		return nil, &WriteError{Path: tmp, Err: err}
	}
	b.file = nil
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, &WriteError{Path: final, Err: err}
	}
	return &body{path: final, size: b.size}, nil
}

// discard drops the buffer and removes its temporary file.
func (b *buffer) discard() {
	if b.file != nil {
		name := b.file.Name()
		b.file.Close()
		os.Remove(name)
		b.file = nil
	}
	b.mem = nil
}

// body is a complete representation, held either in memory or in a file.
type body struct {
	data []byte
	path string
	size int64
}

// Bytes returns a copy of the representation.
func (b *body) Bytes() ([]byte, error) {
	if b.path == "" {
		return append([]byte(nil), b.data...), nil
	}
	return os.ReadFile(b.path)
}

func (b *body) Open() (io.ReadCloser, error) {
	if b.path == "" {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}
	return os.Open(b.path)
}

// remove deletes the file backing the body, if any.
func (b *body) remove() error {
	if b.path == "" {
		return nil
	}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
