package endpoint

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/machinebox/progress"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestOpenSource_File(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/fw.bin", []byte("firmware"), 0o644))

	src, size, err := OpenSource(fs, "/fw.bin", nil)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, int64(8), size)

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	require.Equal(t, "firmware", string(got))
}

func TestOpenSource_Stdin(t *testing.T) {
	for _, path := range []string{"", Stdio} {
		src, size, err := OpenSource(afero.NewMemMapFs(), path, strings.NewReader("piped"))
		require.NoError(t, err)
		require.Equal(t, int64(-1), size)
		got, err := io.ReadAll(src)
		require.NoError(t, err)
		require.Equal(t, "piped", string(got))
		require.NoError(t, src.Close())
	}
}

func TestOpenSource_Missing(t *testing.T) {
	_, _, err := OpenSource(afero.NewMemMapFs(), "/nope.bin", nil)
	require.Error(t, err)
}

func TestCreateSink_FlushReachesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink, err := CreateSink(fs, "/capture.bin", nil)
	require.NoError(t, err)

	_, err = sink.Write([]byte("abc"))
	require.NoError(t, err)

	// Buffered until flushed.
	got, err := afero.ReadFile(fs, "/capture.bin")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, sink.Flush())
	got, err = afero.ReadFile(fs, "/capture.bin")
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
	require.NoError(t, sink.Close())
}

func TestCreateSink_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	sink, err := CreateSink(afero.NewMemMapFs(), Stdio, &stdout)
	require.NoError(t, err)

	_, err = sink.Write([]byte("hello"))
	require.NoError(t, err)
	require.Zero(t, stdout.Len())
	require.NoError(t, sink.Flush())
	require.Equal(t, "hello", stdout.String())
	require.NoError(t, sink.Close())
}

func TestLZ4RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := bytes.Repeat([]byte("serial pump "), 500)

	sink, err := CreateSink(fs, "/capture.LZ4", nil)
	require.NoError(t, err)
	for i := 0; i < len(payload); i += 64 {
		end := min(i+64, len(payload))
		_, err := sink.Write(payload[i:end])
		require.NoError(t, err)
		require.NoError(t, sink.Flush())
	}
	require.NoError(t, sink.Close())

	raw, err := afero.ReadFile(fs, "/capture.LZ4")
	require.NoError(t, err)
	require.NotEqual(t, payload, raw)

	src, size, err := OpenSource(fs, "/capture.LZ4", nil)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, int64(-1), size)
	got, err := io.ReadAll(src)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestProgress_ReportsCompletion(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAA}, 4096)

	var (
		mu      sync.Mutex
		reports []progress.Progress
	)
	r, stop := Progress(bytes.NewReader(payload), int64(len(payload)), 5*time.Millisecond, func(p progress.Progress) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, p)
	})

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) > 0 && reports[len(reports)-1].Complete()
	}, time.Second, 5*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int64(len(payload)), reports[len(reports)-1].N())
}

func TestWithContext_PassesData(t *testing.T) {
	r := WithContext(context.Background(), iotest.OneByteReader(strings.NewReader("abc")))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestWithContext_UnblocksIdleReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	r := WithContext(ctx, pr)

	done := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 8))
		done <- err
	}()
	time.AfterFunc(20*time.Millisecond, cancel)

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read did not return after cancel")
	}

	_, err := r.Read(make([]byte, 8))
	require.ErrorIs(t, err, context.Canceled)
}
