package stream

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer conn.Close()
		for {
			kind, payload, err := conn.ReadMessage(r.Context())
			if err != nil {
				return
			}
			switch kind {
			case MessageBinary:
				if err := conn.WriteBinary(payload); err != nil {
					return
				}
			case MessageText:
				if err := conn.WriteText(payload); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialEcho(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, url, nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWithTimeout(t *testing.T, conn *Conn) (MessageKind, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kind, payload, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return kind, payload
}

func TestWebSocketEchoesBinaryFrames(t *testing.T) {
	conn := dialEcho(t, startEchoServer(t))

	payload := make([]byte, 200) // forces the 16-bit length encoding
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := conn.WriteBinary(payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	kind, got := readWithTimeout(t, conn)
	if kind != MessageBinary {
		t.Fatalf("expected binary frame, got kind %d", kind)
	}
	if string(got) != string(payload) {
		t.Fatal("binary payload mismatch")
	}
}

func TestWebSocketEchoesTextFrames(t *testing.T) {
	conn := dialEcho(t, startEchoServer(t))

	if err := conn.WriteText([]byte("ping")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	kind, got := readWithTimeout(t, conn)
	if kind != MessageText || string(got) != "ping" {
		t.Fatalf("expected text echo, got kind=%d payload=%q", kind, got)
	}
}

func TestWebSocketAnswersPings(t *testing.T) {
	conn := dialEcho(t, startEchoServer(t))

	if err := conn.Ping([]byte("beat")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	kind, got := readWithTimeout(t, conn)
	if kind != MessagePong || string(got) != "beat" {
		t.Fatalf("expected pong, got kind=%d payload=%q", kind, got)
	}
}

// pipeConn builds a server-side Conn over an in-memory pipe so tests can
// feed it raw frame bytes.
func pipeConn(t *testing.T) (net.Conn, *Conn) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	conn := &Conn{
		conn:   serverEnd,
		reader: bufio.NewReader(serverEnd),
		writer: bufio.NewWriter(serverEnd),
	}
	t.Cleanup(func() {
		clientEnd.Close()
		conn.Close()
	})
	return clientEnd, conn
}

func rawFrame(fin bool, opcode byte, payload []byte) []byte {
	first := opcode
	if fin {
		first |= 0x80
	}
	frame := []byte{first, byte(len(payload))}
	return append(frame, payload...)
}

func TestReadMessageReassemblesFragmentedMessages(t *testing.T) {
	clientEnd, conn := pipeConn(t)

	go func() {
		clientEnd.Write(rawFrame(false, opcodeBinary, []byte("hello ")))
		clientEnd.Write(rawFrame(true, opcodeContinuation, []byte("world")))
	}()

	kind, payload, err := conn.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != MessageBinary || string(payload) != "hello world" {
		t.Fatalf("expected reassembled binary message, got kind=%d payload=%q", kind, payload)
	}
}

func TestReadMessageKeepsFragmentsAcrossControlFrames(t *testing.T) {
	clientEnd, conn := pipeConn(t)

	go func() {
		clientEnd.Write(rawFrame(false, opcodeBinary, []byte("stream-")))
		clientEnd.Write(rawFrame(true, opcodePong, nil))
		clientEnd.Write(rawFrame(true, opcodeContinuation, []byte("data")))
	}()

	kind, _, err := conn.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if kind != MessagePong {
		t.Fatalf("expected pong first, got kind %d", kind)
	}

	kind, payload, err := conn.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if kind != MessageBinary || string(payload) != "stream-data" {
		t.Fatalf("expected reassembled binary message, got kind=%d payload=%q", kind, payload)
	}
}

func TestReadMessageRejectsOversizedFrames(t *testing.T) {
	clientEnd, conn := pipeConn(t)

	go func() {
		// Header declaring a payload far beyond the frame limit.
		clientEnd.Write([]byte{0x82, 127, 0, 0, 0, 1, 0, 0, 0, 0})
	}()

	if _, _, err := conn.ReadMessage(context.Background()); err == nil {
		t.Fatal("expected an error for an oversized frame")
	}
}

func TestConnCloseIsSafeDuringReadsAndWrites(t *testing.T) {
	clientEnd, conn := pipeConn(t)
	go io.Copy(io.Discard, clientEnd)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			if _, _, err := conn.ReadMessage(context.Background()); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			if err := conn.WriteText([]byte("ping")); err != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("repeated close: %v", err)
	}
	wg.Wait()

	if err := conn.WriteText([]byte("ping")); err == nil {
		t.Fatal("expected writes after close to fail")
	}
}

func TestAcceptRejectsPlainRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Accept(w, r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
