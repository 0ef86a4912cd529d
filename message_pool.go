package yozora

import (
	"sync"
	"sync/atomic"
)

// Message pool for allocation-free request decoding
var messagePool = sync.Pool{
	New: func() interface{} {
		return &Message{}
	},
}

// getMessage wraps one request body. data aliases the client's input
// buffer and is only valid until putMessage.
func getMessage(objectID uint32, opcode uint16, data []byte, fds *fdQueue) *Message {
	m := messagePool.Get().(*Message)
	m.ObjectID = objectID
	m.Opcode = opcode
	m.data = data
	m.offset = 0
	m.fds = fds
	m.err = nil
	return m
}

// putMessage returns m to the pool. m must not be used afterwards.
func putMessage(m *Message) {
	m.data = nil
	m.fds = nil
	m.err = nil
	messagePool.Put(m)
}

// Ensure cache line alignment for counters touched from different goroutines
type cacheLinePad [64]byte

// Stats counts session activity. Counters are updated by the session
// goroutine and may be read from anywhere.
type Stats struct {
	ClientsAccepted    atomic.Uint64
	_                  cacheLinePad
	RequestsDispatched atomic.Uint64
	_                  cacheLinePad
	ImportsSucceeded   atomic.Uint64
	_                  cacheLinePad
	ImportsFailed      atomic.Uint64
	_                  cacheLinePad
}

// ImportFailureRate returns the fraction of imports that failed
func (s *Stats) ImportFailureRate() float64 {
	ok := s.ImportsSucceeded.Load()
	failed := s.ImportsFailed.Load()
	if ok+failed == 0 {
		return 0
	}
	return float64(failed) / float64(ok+failed)
}
