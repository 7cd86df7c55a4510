package pump

import (
	"bytes"
	"errors"
	"time"
)

var errLinkGone = errors.New("link gone")

// fakeLink is a scripted Link.
type fakeLink struct {
	rx        []byte // bytes handed out by Read
	readChunk int    // max bytes per Read, 0 for no cap
	zeroReads int    // Reads returning 0, nil before any data
	// rxEmptyPolls is how many BytesToRead calls report an empty FIFO
	// before the real count is returned.
	rxEmptyPolls int
	// txPending is consumed one value per BytesToWrite call; txDefault
	// is returned once it runs out.
	txPending []int
	txDefault int
	// readErr is returned by Read and BytesToRead once rx is exhausted.
	readErr  error
	writeErr error
	loopback bool

	timeout time.Duration
	baud    int

	tx         bytes.Buffer
	writeSizes []int
	flushes    int
	txQueries  int
	rxQueries  int
}

func (f *fakeLink) Read(b []byte) (int, error) {
	if f.zeroReads > 0 {
		f.zeroReads--
		return 0, nil
	}
	if len(f.rx) == 0 {
		return 0, f.readErr
	}
	if f.readChunk > 0 && len(b) > f.readChunk {
		b = b[:f.readChunk]
	}
	n := copy(b, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeLink) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writeSizes = append(f.writeSizes, len(b))
	if f.loopback {
		f.rx = append(f.rx, b...)
	}
	return f.tx.Write(b)
}

func (f *fakeLink) Flush() error {
	f.flushes++
	return nil
}

func (f *fakeLink) BytesToRead() (int, error) {
	f.rxQueries++
	if f.rxEmptyPolls > 0 {
		f.rxEmptyPolls--
		return 0, nil
	}
	if len(f.rx) == 0 && f.readErr != nil {
		return 0, f.readErr
	}
	return len(f.rx), nil
}

func (f *fakeLink) BytesToWrite() (int, error) {
	f.txQueries++
	if len(f.txPending) > 0 {
		n := f.txPending[0]
		f.txPending = f.txPending[1:]
		return n, nil
	}
	return f.txDefault, nil
}

func (f *fakeLink) Timeout() time.Duration { return f.timeout }

func (f *fakeLink) BaudRate() int { return f.baud }

// recordingSink counts writes and flushes.
type recordingSink struct {
	bytes.Buffer
	writes   int
	flushes  int
	writeErr error
	flushErr error
}

func (s *recordingSink) Write(b []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes++
	return s.Buffer.Write(b)
}

func (s *recordingSink) Flush() error {
	if s.flushErr != nil {
		return s.flushErr
	}
	s.flushes++
	return nil
}

// failingReader fails the test's expectations if it is ever read.
type failingReader struct{ calls int }

func (r *failingReader) Read([]byte) (int, error) {
	r.calls++
	return 0, errors.New("unexpected read")
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
