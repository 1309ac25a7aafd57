package util

import (
	"bytes"
	"context"
	"io"
	"testing"
)

// BenchmarkAsyncWriter measures queueing plus draining of relay
// writes, the hot path for every echoed stdin chunk.
func BenchmarkAsyncWriter(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), 4096)
	w := NewAsyncWriter(io.Discard, WriterHooks{})

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Write(payload) //nolint:errcheck
	}
	w.Drain(context.Background()) //nolint:errcheck
}

// BenchmarkReadChunks measures chunked reads through the pooled buffer.
func BenchmarkReadChunks(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), DefaultBufSize*4)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReadChunks(bytes.NewReader(payload), func([]byte) bool { return true }) //nolint:errcheck
	}
}

// BenchmarkBufPool measures the allocation advantage of sync.Pool
// buffer reuse versus fresh allocation.
func BenchmarkBufPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetBuf()
			_ = (*buf)[0]
			PutBuf(buf)
		}
	})
	b.Run("alloc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := make([]byte, DefaultBufSize)
			_ = buf[0]
		}
	})
}
