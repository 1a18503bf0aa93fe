// Package frame moves whole text messages over an ordered duplex channel.
//
// Two carriers implement Conn: LineConn delimits messages with '\n' on a
// byte stream, WebSocketConn sends one websocket text message per message.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrMessageTooLarge = errors.New("frame: message too large")
	ErrEmbeddedNewline = errors.New("frame: message contains a line break")
	ErrClosed          = errors.New("frame: connection closed")
)

// Conn carries whole messages in order. ReadMessage must be called from one
// goroutine; WriteMessage and Close are safe for concurrent use.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	Close() error
}

// Limits constrains message size and write blocking.
type Limits struct {
	MaxMessageBytes int
	WriteTimeout    time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 16 * 1024 * 1024,
		WriteTimeout:    15 * time.Second,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = d.MaxMessageBytes
	}
	return l
}

// ReadLine reads one '\n'-terminated message, skipping blank lines. A
// trailing "\r" is dropped. After ErrMessageTooLarge the stream position is
// undefined and the caller must close it.
func ReadLine(r *bufio.Reader, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	for {
		var line []byte
		for {
			chunk, err := r.ReadSlice('\n')
			if len(line)+len(chunk) > limits.MaxMessageBytes+2 {
				return nil, ErrMessageTooLarge
			}
			line = append(line, chunk...)
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > limits.MaxMessageBytes {
			return nil, ErrMessageTooLarge
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

// WriteLine writes msg followed by '\n'.
func WriteLine(w io.Writer, msg []byte, limits Limits) error {
	limits = limits.withDefaults()
	if len(msg) > limits.MaxMessageBytes {
		return ErrMessageTooLarge
	}
	if bytes.ContainsAny(msg, "\r\n") {
		return ErrEmbeddedNewline
	}
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// LineConn is a Conn over a byte stream such as a TCP connection.
type LineConn struct {
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	limits Limits

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func NewLineConn(rwc io.ReadWriteCloser, limits Limits) *LineConn {
	return &LineConn{
		rwc:    rwc,
		r:      bufio.NewReaderSize(rwc, 64*1024),
		limits: limits.withDefaults(),
		closed: make(chan struct{}),
	}
}

func (c *LineConn) ReadMessage() ([]byte, error) {
	msg, err := ReadLine(c.r, c.limits)
	if err != nil && c.isClosed() {
		return nil, ErrClosed
	}
	return msg, err
}

func (c *LineConn) WriteMessage(msg []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := c.rwc.(writeDeadliner); ok && c.limits.WriteTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.limits.WriteTimeout)); err != nil {
			return err
		}
	}
	return WriteLine(c.rwc, msg, c.limits)
}

func (c *LineConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rwc.Close()
	})
	return err
}

func (c *LineConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
