package util

import "sync"

// bufPool holds DefaultBufSize buffers.  ReadChunks reads stdin into
// them; CloneChunk gives the event loop its own copy of a chunk, which
// the loop returns with PutBuf once handled.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf returns a buffer of length DefaultBufSize.  Callers must return
// it with [PutBuf] when finished.
func GetBuf() *[]byte {
	buf := bufPool.Get().(*[]byte)
	*buf = (*buf)[:cap(*buf)]
	return buf
}

// CloneChunk copies p into a pooled buffer whose length is len(p).
func CloneChunk(p []byte) *[]byte {
	buf := GetBuf()
	*buf = append((*buf)[:0], p...)
	return buf
}

// PutBuf returns a buffer to the pool for reuse.  Undersized buffers are
// dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	bufPool.Put(buf)
}
