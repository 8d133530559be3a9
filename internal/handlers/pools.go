package handlers

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxPooledBuffer keeps one oversized status response from pinning memory.
const maxPooledBuffer = 64 << 10

// bufferPool hands out reusable byte buffers for request decoding and
// response encoding.
type bufferPool struct {
	name string
	size int
	pool sync.Pool
}

func newBufferPool(name string, size int) *bufferPool {
	p := &bufferPool{name: name, size: size}
	p.pool.New = func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, size))
	}
	return p
}

func (p *bufferPool) get() *bytes.Buffer {
	v := p.pool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Str("pool", p.name).Msg("Unexpected type from buffer pool")
		return bytes.NewBuffer(make([]byte, 0, p.size))
	}
	return buf
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

var (
	requestBuffers  = newBufferPool("request", 1024)  // control API requests are a few hundred bytes
	responseBuffers = newBufferPool("response", 2048) // getStatus lists attempts
)
