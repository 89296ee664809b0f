package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"logsentinel/pkg/models"
)

// DefaultChunkBytes bounds how much of a file one Poll call may read.
const DefaultChunkBytes = 256 * 1024

// Checkpoint is the durable read position for one source file.
// Offset always points at the start of the first byte that has not been
// emitted as a complete line, so a restart never skips or re-splits data.
type Checkpoint struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset"`
	Identity uint64 `json:"identity"`
	Size     int64  `json:"size"`
	ModTime  int64  `json:"mtime_unix"`
}

// Result is the outcome of one Poll call.
type Result struct {
	Lines []string
	// Resync reports that the file was rotated or truncated and the
	// offset was reset to zero. Informational, not an error.
	Resync bool
	// Checkpoint is the position after the returned lines. The caller
	// persists it once the lines have been handed off downstream.
	Checkpoint Checkpoint
}

// Reader incrementally reads one log file. It keeps a trailing partial
// line in memory across calls instead of emitting it prematurely; the
// partial bytes stay ahead of the checkpoint until their newline arrives.
type Reader struct {
	source     models.Source
	path       string
	chunkBytes int
	cp         Checkpoint
	partial    []byte
}

// New creates a reader resuming from a previously persisted checkpoint.
// A checkpoint recorded for a different path is discarded.
func New(source models.Source, path string, chunkBytes int, cp Checkpoint) *Reader {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	if cp.Path != path {
		cp = Checkpoint{Path: path}
	}
	return &Reader{
		source:     source,
		path:       path,
		chunkBytes: chunkBytes,
		cp:         cp,
	}
}

// Source returns the source this reader feeds.
func (r *Reader) Source() models.Source { return r.source }

// Checkpoint returns the current in-memory checkpoint.
func (r *Reader) Checkpoint() Checkpoint { return r.cp }

// Poll reads at most one chunk of new data and returns the complete lines
// it contains. A missing file or absence of new data yields an empty
// result, not an error.
func (r *Reader) Poll(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}

	info, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		res.Checkpoint = r.cp
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", r.path, err)
	}

	identity := fileIdentity(info)
	if r.cp.Identity != 0 && identity != 0 && identity != r.cp.Identity {
		res.Resync = true
	} else if info.Size() < r.cp.Offset {
		res.Resync = true
	}
	if res.Resync {
		r.cp.Offset = 0
		r.partial = r.partial[:0]
	}

	readPos := r.cp.Offset + int64(len(r.partial))
	if info.Size() <= readPos {
		r.cp.Identity = identity
		r.cp.Size = info.Size()
		r.cp.ModTime = info.ModTime().Unix()
		res.Checkpoint = r.cp
		return res, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(readPos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", r.path, err)
	}

	buf := make([]byte, r.chunkBytes)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	data := append(r.partial, buf[:n]...)
	lastNL := bytes.LastIndexByte(data, '\n')
	if lastNL >= 0 {
		for _, raw := range bytes.Split(data[:lastNL], []byte{'\n'}) {
			res.Lines = append(res.Lines, string(bytes.TrimSuffix(raw, []byte{'\r'})))
		}
		r.cp.Offset = readPos + int64(n) - int64(len(data)-lastNL-1)
		r.partial = append(r.partial[:0], data[lastNL+1:]...)
	} else {
		r.partial = data
	}

	r.cp.Identity = identity
	r.cp.Size = info.Size()
	r.cp.ModTime = info.ModTime().Unix()
	res.Checkpoint = r.cp
	return res, nil
}

// fileIdentity returns the inode when the platform exposes one, zero
// otherwise. Identity zero disables rotation detection by identity and
// falls back to the size heuristic.
func fileIdentity(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
