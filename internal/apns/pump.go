package apns

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// errQueueClosed is returned by sendQueue.Write after the queue is closed.
var errQueueClosed = errors.New("apns: send queue closed")

// sendQueue is the loopback pipe between the frame engine and the socket.
// The http2.Framer writes encoded frames here instead of the socket, so
// frame encoding under the connection lock never blocks on socket
// readiness; the write loop drains the queue to the wire at its own pace.
//
// ready carries at most one pending signal. A drained queue leaves ready
// empty, so the write loop parks on it without spinning.
type sendQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
	ready  chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{ready: make(chan struct{}, 1)}
}

// Write implements io.Writer for the framer. The chunk is copied because
// the framer reuses its internal buffer between frames.
func (q *sendQueue) Write(p []byte) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errQueueClosed
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	q.chunks = append(q.chunks, buf)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return len(p), nil
}

// take removes and returns the oldest queued chunk, or nil when empty.
func (q *sendQueue) take() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return nil
	}
	chunk := q.chunks[0]
	q.chunks = q.chunks[1:]
	return chunk
}

// close marks the queue dead so late framer writes fail instead of
// accumulating against a torn-down transport. Already-queued chunks stay
// takeable so the write loop can attempt a final flush on its way out.
func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// writeLoop is the outbound half of the socket pump: it drains the send
// queue to the socket until the transport dies or the connection closes.
// A write error kills the transport; in-flight streams are left to the
// timeout sweeper, which outlives the pump.
func (c *Conn) writeLoop(sock net.Conn, q *sendQueue, deadc <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-deadc:
			// Final flush: a GOAWAY queued at close time gets its one
			// chance at the wire before the socket goes down.
			for {
				chunk := q.take()
				if chunk == nil {
					return
				}
				if _, err := sock.Write(chunk); err != nil {
					return
				}
			}
		case <-q.ready:
			for {
				chunk := q.take()
				if chunk == nil {
					break
				}
				if _, err := sock.Write(chunk); err != nil {
					c.transportFailed(fmt.Errorf("socket write: %w", err))
					return
				}
			}
		}
	}
}

// readLoop is the inbound half of the socket pump: it feeds the framer
// from the socket and dispatches each decoded frame. The framer read
// blocks on the socket, so teardown unblocks it by closing the socket;
// the deadc check below distinguishes that from a genuine failure.
func (c *Conn) readLoop(framer *http2.Framer, deadc <-chan struct{}) {
	defer c.wg.Done()
	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			select {
			case <-deadc:
				// Local teardown already in progress.
			default:
				if err == io.EOF {
					c.logger.Debug("gateway closed connection")
					c.transportFailed(io.EOF)
				} else {
					c.logger.Warn("frame read failed", zap.Error(err))
					c.transportFailed(fmt.Errorf("frame read: %w", err))
				}
			}
			return
		}
		c.processFrame(frame)
	}
}
