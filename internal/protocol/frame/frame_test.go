package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestWriteReadLineRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	msgs := []string{`{"Control":"OpenSession"}`, `{"Control":"CloseSession"}`}
	for _, m := range msgs {
		if err := WriteLine(&buf, []byte(m), DefaultLimits()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	r := bufio.NewReader(&buf)
	for _, want := range msgs {
		got, err := ReadLine(r, DefaultLimits())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
	if _, err := ReadLine(r, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadLineSkipsBlankLinesAndCR(t *testing.T) {
	testlog.Start(t)
	r := bufio.NewReader(strings.NewReader("\n\r\n  \n{\"a\":1}\r\n"))
	got, err := ReadLine(r, DefaultLimits())
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("unexpected read %q %v", got, err)
	}
}

func TestReadLineTruncatedIsUnexpectedEOF(t *testing.T) {
	testlog.Start(t)
	r := bufio.NewReader(strings.NewReader(`{"Control":`))
	if _, err := ReadLine(r, DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestLimitsEnforced(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxMessageBytes: 8}
	if err := WriteLine(io.Discard, []byte("123456789"), limits); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge on write, got %v", err)
	}
	if err := WriteLine(io.Discard, []byte("a\nb"), limits); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("expected ErrEmbeddedNewline, got %v", err)
	}
	r := bufio.NewReaderSize(strings.NewReader(strings.Repeat("x", 64)+"\n"), 16)
	if _, err := ReadLine(r, limits); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge on read, got %v", err)
	}
	r = bufio.NewReader(strings.NewReader("12345678\n"))
	if got, err := ReadLine(r, limits); err != nil || string(got) != "12345678" {
		t.Fatalf("message at the limit must pass: %q %v", got, err)
	}
}

func TestLineConnOverPipe(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	ca, cb := NewLineConn(a, DefaultLimits()), NewLineConn(b, DefaultLimits())
	defer cb.Close()

	go func() {
		_ = ca.WriteMessage([]byte(`{"Control":"OpenSession"}`))
	}()
	got, err := cb.ReadMessage()
	if err != nil || string(got) != `{"Control":"OpenSession"}` {
		t.Fatalf("unexpected read %q %v", got, err)
	}
	if err := ca.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ca.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close should report ErrClosed, got %v", err)
	}
	if err := ca.WriteMessage([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close should fail, got %v", err)
	}
	if _, err := cb.ReadMessage(); err == nil {
		t.Fatalf("expected read error after peer close")
	}
}

func TestWebSocketConnEcho(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws, Limits{MaxMessageBytes: 64})
		defer conn.Close()
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewWebSocketConn(ws, DefaultLimits())
	defer client.Close()

	if err := client.WriteMessage([]byte(`{"Control":"OpenSession"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := client.ReadMessage()
	if err != nil || string(got) != `{"Control":"OpenSession"}` {
		t.Fatalf("unexpected echo %q %v", got, err)
	}

	if err := client.WriteMessage(bytes.Repeat([]byte("x"), 128)); err != nil {
		t.Fatalf("write oversized: %v", err)
	}
	if _, err := client.ReadMessage(); err == nil {
		t.Fatalf("expected server to drop the connection after an oversized message")
	}
}
