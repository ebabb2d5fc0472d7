// Package sink forwards encoded audio chunks to a remote consumer.
package sink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	queueDepth = 64
)

// ErrQueueFull is returned by Send when the writer falls behind.
var ErrQueueFull = errors.New("sink queue full")

// WebSocket sends every chunk as one binary message. Sends never block the
// capture path: when the queue is full the chunk is dropped.
type WebSocket struct {
	conn *websocket.Conn
	log  zerolog.Logger

	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64

	mu  sync.Mutex
	err error
}

// DialWebSocket connects to url and starts the writer.
func DialWebSocket(url string, log zerolog.Logger) (*WebSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	w := &WebSocket{
		conn:    conn,
		log:     log.With().Str("sink", url).Logger(),
		queue:   make(chan []byte, queueDepth),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.writeLoop()
	w.log.Info().Msg("Connected audio sink")
	return w, nil
}

// Send queues data for delivery.
func (w *WebSocket) Send(data []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	select {
	case <-w.done:
		return errors.New("sink closed")
	default:
	}
	select {
	case w.queue <- data:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many chunks were discarded because the queue was
// full.
func (w *WebSocket) Dropped() int64 { return w.dropped.Load() }

// Err returns the write error that stopped the sink, if any.
func (w *WebSocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *WebSocket) writeLoop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case data := <-w.queue:
			if err := w.write(data); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

// drain flushes what was queued before Close
func (w *WebSocket) drain() {
	for {
		select {
		case data := <-w.queue:
			if err := w.write(data); err != nil {
				w.fail(err)
				return
			}
		default:
			return
		}
	}
}

func (w *WebSocket) write(data []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *WebSocket) fail(err error) {
	w.log.Warn().Err(err).Msg("Audio sink write failed")
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Close flushes queued chunks, sends a close frame and closes the
// connection.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		<-w.stopped

		w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = w.conn.Close()
		if n := w.dropped.Load(); n > 0 {
			w.log.Warn().Int64("dropped", n).Msg("Audio sink dropped chunks")
		}
	})
	return err
}
