// Package endpoint opens the host side of a transfer: the file or standard
// stream that is uploaded to, or downloaded from, the serial link.
//
// Paths ending in ".lz4" are transparently decompressed when read and
// compressed when written.
package endpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/machinebox/progress"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
)

// Stdio is the path that selects the standard stream.
const Stdio = "-"

func isStdio(path string) bool {
	return path == "" || path == Stdio
}

func isLZ4(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".lz4")
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// OpenSource opens path for reading, or returns stdin for "" and "-".
// The returned size is the number of bytes the source will yield, or -1
// when unknown.
func OpenSource(fs afero.Fs, path string, stdin io.Reader) (io.ReadCloser, int64, error) {
	if isStdio(path) {
		return io.NopCloser(stdin), -1, nil
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open input: %w", err)
	}
	if isLZ4(path) {
		return readCloser{Reader: lz4.NewReader(f), close: f.Close}, -1, nil
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat input: %w", err)
	}
	return f, fi.Size(), nil
}

type readResult struct {
	n   int
	err error
}

// contextReader returns from Read as soon as its context is done, even when
// the underlying read is still blocked.
type contextReader struct {
	ctx     context.Context
	r       io.Reader
	buf     []byte
	res     chan readResult
	pending bool
}

// WithContext wraps r so that Read returns ctx.Err() once ctx is done. A read
// blocked in r at that moment is abandoned and its data discarded; this is
// meant for terminal and pipe input that cannot otherwise be interrupted.
func WithContext(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r, res: make(chan readResult, 1)}
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if !c.pending {
		if cap(c.buf) < len(p) {
			c.buf = make([]byte, len(p))
		}
		buf := c.buf[:len(p)]
		c.pending = true
		go func() {
			n, err := c.r.Read(buf)
			c.res <- readResult{n, err}
		}()
	}
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	case res := <-c.res:
		c.pending = false
		return copy(p, c.buf[:res.n]), res.err
	}
}

// Sink is a buffered destination whose Flush pushes everything written so
// far to the underlying file or stream.
type Sink struct {
	buf    *bufio.Writer
	zw     *lz4.Writer
	closer io.Closer
}

// CreateSink creates or truncates path, or wraps stdout for "" and "-".
func CreateSink(fs afero.Fs, path string, stdout io.Writer) (*Sink, error) {
	if isStdio(path) {
		return &Sink{buf: bufio.NewWriter(stdout)}, nil
	}
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	s := &Sink{buf: bufio.NewWriter(f), closer: f}
	if isLZ4(path) {
		s.zw = lz4.NewWriter(s.buf)
	}
	return s, nil
}

func (s *Sink) Write(b []byte) (int, error) {
	if s.zw != nil {
		return s.zw.Write(b)
	}
	return s.buf.Write(b)
}

// Flush writes out buffered data. For lz4 output this ends the current
// compressed block.
func (s *Sink) Flush() error {
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return err
		}
	}
	return s.buf.Flush()
}

// Close flushes and, for files, closes the sink. Standard output is left open.
func (s *Sink) Close() error {
	var err error
	if s.zw != nil {
		err = s.zw.Close()
	}
	if ferr := s.buf.Flush(); err == nil {
		err = ferr
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Progress counts bytes read through r and calls report every interval
// until size bytes have been read or stop is called. With an unknown size
// (-1) report still fires but never sees completion.
func Progress(r io.Reader, size int64, interval time.Duration, report func(progress.Progress)) (io.Reader, func()) {
	pr := progress.NewReader(r)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progress.NewTicker(ctx, pr, size, interval) {
			report(p)
		}
	}()
	return pr, func() {
		cancel()
		wg.Wait()
	}
}
