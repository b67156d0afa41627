package util

import "sync"

// chunkBufSize fits the vast majority of depot chunks before decompression
// grows them past it.
const chunkBufSize = MiB

var chunkBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, chunkBufSize)
		return &b
	},
}

// GetChunkBuffer returns a reusable chunkBufSize-byte scratch buffer.
// Contents are undefined.
func GetChunkBuffer() []byte {
	return *chunkBuffers.Get().(*[]byte)
}

// PutChunkBuffer recycles a buffer obtained from GetChunkBuffer. Buffers of
// any other size are dropped.
func PutChunkBuffer(b []byte) {
	if len(b) != chunkBufSize {
		return
	}
	chunkBuffers.Put(&b)
}
