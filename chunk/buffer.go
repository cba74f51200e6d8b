// Package chunk implements the data-transfer primitive of the BLE
// application protocol: payloads larger than the negotiated MTU are split
// into DataChunks tagged with the bytes remaining, and reassembled on the
// receiving side. Cursors are tracked per peer address and per logical
// channel key, so independent transfers never interleave within one key
// but different keys may run concurrently for the same peer.
package chunk

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/user/webcam-direct/logger"
)

// Key identifies one logical transfer channel for a peer, e.g. a query
// kind or a command kind.
type Key string

var (
	// ErrWrongBufferMode is returned when a read-side call hits a cursor
	// that is accumulating a write, or vice versa.
	ErrWrongBufferMode = errors.New("buffer cursor is in the opposite transfer mode")

	// ErrBufferLimitExceeded is returned when an accumulating transfer, or a
	// requested chunk length, exceeds the configured buffer size limit.
	ErrBufferLimitExceeded = errors.New("buffer size limit exceeded")
)

type cursorMode int

const (
	modeReader cursorMode = iota // outbound chunked read in progress
	modeWriter                   // inbound chunked write in progress
)

type cursor struct {
	mode   cursorMode
	remain uint64
	buf    strings.Builder
}

// BufferMap owns the transfer cursors for all connected peers. It is not
// safe for concurrent use; the dispatcher actor is its only caller.
type BufferMap struct {
	sizeLimit int
	cursors   map[string]map[Key]*cursor
}

// NewBufferMap creates a cursor table whose transfers may not grow beyond
// sizeLimit bytes.
func NewBufferMap(sizeLimit int) *BufferMap {
	return &BufferMap{
		sizeLimit: sizeLimit,
		cursors:   make(map[string]map[Key]*cursor),
	}
}

func (m *BufferMap) peer(addr string) map[Key]*cursor {
	p, ok := m.cursors[addr]
	if !ok {
		p = make(map[Key]*cursor)
		m.cursors[addr] = p
	}
	return p
}

// NextChunk returns the next outbound chunk of full for the given peer and
// channel. The first call for an idle channel starts a new transfer over
// the complete payload; subsequent calls drain it until RemainLen reaches
// zero and the cursor goes idle again.
func (m *BufferMap) NextChunk(addr string, key Key, maxLen int, full string) (DataChunk, error) {
	peer := m.peer(addr)

	if maxLen < 1 {
		return DataChunk{}, errors.Errorf("max chunk length %d is not positive", maxLen)
	}
	if maxLen > m.sizeLimit {
		// A peer asking for chunks larger than the whole transfer budget is
		// misbehaving; drop whatever was in flight on this channel.
		delete(peer, key)
		logger.Warn("chunk", "peer %s requested chunk of %d bytes, limit is %d", addr, maxLen, m.sizeLimit)
		return DataChunk{}, errors.Wrapf(ErrBufferLimitExceeded, "requested chunk length %d", maxLen)
	}

	cur, ok := peer[key]
	if !ok {
		cur = &cursor{mode: modeReader, remain: uint64(len(full))}
		peer[key] = cur
	}
	if cur.mode != modeReader {
		return DataChunk{}, errors.Wrapf(ErrWrongBufferMode, "inbound write in progress on %q for %s", key, addr)
	}

	start := len(full) - int(cur.remain)
	if start < 0 {
		// The caller changed the payload mid-transfer; restart cleanly.
		delete(peer, key)
		return DataChunk{}, errors.Errorf("payload shrank below cursor position on %q for %s", key, addr)
	}
	end := start + maxLen
	if end > len(full) {
		end = len(full)
	}
	cur.remain -= uint64(end - start)

	c := DataChunk{RemainLen: cur.remain, Buffer: full[start:end]}
	if cur.remain == 0 {
		delete(peer, key)
	}
	return c, nil
}

// Accumulate appends an inbound chunk to the transfer in progress on the
// given channel, starting one if the channel is idle. When the chunk marks
// the end of the transfer the complete payload is returned with done set
// to true and the cursor goes idle.
func (m *BufferMap) Accumulate(addr string, key Key, c DataChunk) (payload string, done bool, err error) {
	peer := m.peer(addr)

	cur, ok := peer[key]
	if !ok {
		cur = &cursor{mode: modeWriter}
		peer[key] = cur
	}
	if cur.mode != modeWriter {
		return "", false, errors.Wrapf(ErrWrongBufferMode, "outbound read in progress on %q for %s", key, addr)
	}

	if cur.buf.Len()+len(c.Buffer) > m.sizeLimit {
		// Abort the whole transfer; an unbounded writer must not pin memory.
		delete(peer, key)
		logger.Warn("chunk", "peer %s exceeded the %d byte buffer limit on %q", addr, m.sizeLimit, key)
		return "", false, errors.Wrapf(ErrBufferLimitExceeded, "accumulating %q for %s", key, addr)
	}
	cur.buf.WriteString(c.Buffer)

	if c.RemainLen != 0 {
		return "", false, nil
	}
	payload = cur.buf.String()
	delete(peer, key)
	return payload, true, nil
}

// DropPeer discards every cursor belonging to addr, abandoning any
// transfers in flight. Called when the peer disconnects.
func (m *BufferMap) DropPeer(addr string) {
	delete(m.cursors, addr)
}

// OpenTransfers reports how many transfers are in flight for addr.
func (m *BufferMap) OpenTransfers(addr string) int {
	return len(m.cursors[addr])
}
