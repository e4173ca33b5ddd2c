package util

import "sync"

// DefaultBufSize is the size of the codec output buffers handed out by
// BufPool (32 KiB).  Pipelines write at most this much per socket send.
const DefaultBufSize = 32 * 1024

// BufPool provides reusable codec output buffers so that a burst of
// short-lived connections does not churn the allocator.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.  Buffers that were
// resliced to another length are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || len(*buf) != DefaultBufSize {
		return
	}
	BufPool.Put(buf)
}
