package sender

import (
	"io"
	"log"
	"sync/atomic"
)

// LogChannel is a dry-run channel that logs payloads instead of sending them.
// Every is the logging stride; 1 logs every payload.
type LogChannel struct {
	log   *log.Logger
	every uint64
	n     atomic.Uint64
}

// NewLogChannel returns a LogChannel logging one payload in every.
func NewLogChannel(logger *log.Logger, every int) *LogChannel {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if every < 1 {
		every = 1
	}
	logger.Printf("renderer transport: dry run, logging payloads")
	return &LogChannel{log: logger, every: uint64(every)}
}

// Ready always reports true.
func (l *LogChannel) Ready() bool { return true }

// Send logs data.
func (l *LogChannel) Send(data []byte) error {
	n := l.n.Add(1)
	if (n-1)%l.every == 0 {
		l.log.Printf("payload #%d: %s", n, data)
	}
	return nil
}

// Count returns the number of payloads received.
func (l *LogChannel) Count() uint64 {
	return l.n.Load()
}

var (
	_ Channel = (*LogChannel)(nil)
	_ Channel = (*WebSocketChannel)(nil)
	_ Channel = (*DataChannel)(nil)
)
