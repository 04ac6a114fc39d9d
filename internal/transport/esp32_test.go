package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeESP32 serves the WebSocket stream on / and records /command requests.
type fakeESP32 struct {
	server   *httptest.Server
	commands chan string
	pageIDs  chan string
	frames   []frame
}

type frame struct {
	kind int
	data string
}

func newFakeESP32(t *testing.T, frames ...frame) *fakeESP32 {
	t.Helper()
	f := &fakeESP32{
		commands: make(chan string, 16),
		pageIDs:  make(chan string, 16),
		frames:   frames,
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		f.commands <- r.URL.Query().Get("commandText")
		f.pageIDs <- r.URL.Query().Get("PAGEID")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, fr := range f.frames {
			if err := conn.WriteMessage(fr.kind, []byte(fr.data)); err != nil {
				return
			}
		}
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeESP32) config(t *testing.T) ESP32Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(f.server.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return ESP32Config{Host: host, HTTPPort: port, WebSocketPort: port}
}

func dial(t *testing.T, cfg ESP32Config) *ESP32 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := DialESP32(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("DialESP32() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func readAll(t *testing.T, r io.Reader, want int) string {
	t.Helper()
	buf := make([]byte, 0, want)
	chunk := make([]byte, 4)
	for len(buf) < want {
		n, err := r.Read(chunk)
		if err != nil {
			t.Fatalf("Read() error = %v after %q", err, buf)
		}
		buf = append(buf, chunk[:n]...)
	}
	return string(buf)
}

func TestESP32ReadsPayloadFrames(t *testing.T) {
	fake := newFakeESP32(t,
		frame{websocket.TextMessage, "CURRENT_ID:3"},
		frame{websocket.TextMessage, "ACTIVE_ID:3"},
		frame{websocket.BinaryMessage, "ok\r\n"},
		frame{websocket.TextMessage, "PING:3"},
		frame{websocket.BinaryMessage, "<Idle|MPos:1.000,2.000,0.000>\r\n"},
	)
	e := dial(t, fake.config(t))

	want := "ok\r\n<Idle|MPos:1.000,2.000,0.000>\r\n"
	if got := readAll(t, e, len(want)); got != want {
		t.Errorf("Read() = %q, want %q", got, want)
	}
	if id := e.SessionID(); id != "3" {
		t.Errorf("SessionID() = %q, want 3", id)
	}
	if n := e.Mismatches(); n != 0 {
		t.Errorf("Mismatches() = %d, want 0", n)
	}
}

func TestESP32SessionMismatch(t *testing.T) {
	fake := newFakeESP32(t,
		frame{websocket.TextMessage, "CURRENT_ID:3"},
		frame{websocket.TextMessage, "ACTIVE_ID:4"},
		frame{websocket.TextMessage, "PING:5"},
		frame{websocket.TextMessage, "[MSG:'$H'|'$X' to unlock]\r\n"},
	)
	e := dial(t, fake.config(t))

	want := "[MSG:'$H'|'$X' to unlock]\r\n"
	if got := readAll(t, e, len(want)); got != want {
		t.Errorf("Read() = %q, want %q", got, want)
	}
	if n := e.Mismatches(); n != 2 {
		t.Errorf("Mismatches() = %d, want 2", n)
	}
}

func TestESP32WriteSendsCommands(t *testing.T) {
	fake := newFakeESP32(t, frame{websocket.TextMessage, "CURRENT_ID:9"})
	e := dial(t, fake.config(t))

	// Wait for the session id so every request carries it.
	deadline := time.Now().Add(5 * time.Second)
	for e.SessionID() == "" {
		if time.Now().After(deadline) {
			t.Fatal("no session id received")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := e.Write([]byte("$H\r")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := e.Write([]byte("G0 X-90.000 Y-30.000\r")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// realtime bytes arrive unterminated
	if _, err := e.Write([]byte("?")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	for _, want := range []string{"$H", "G0 X-90.000 Y-30.000", "?"} {
		select {
		case got := <-fake.commands:
			if got != want {
				t.Errorf("command = %q, want %q", got, want)
			}
			if id := <-fake.pageIDs; id != "9" {
				t.Errorf("PAGEID = %q, want 9", id)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("command %q never arrived", want)
		}
	}
}

func TestESP32Close(t *testing.T) {
	fake := newFakeESP32(t)
	e := dial(t, fake.config(t))

	done := make(chan error, 1)
	go func() {
		_, err := e.Read(make([]byte, 8))
		done <- err
	}()

	if err := e.Close(); err != nil {
		t.Logf("Close() = %v", err)
	}
	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("Read() after Close = %v, want io.EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read() did not return after Close")
	}

	if _, err := e.Write([]byte("?\r")); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Write() after Close = %v, want net.ErrClosed", err)
	}
}

func TestDialESP32Failure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := DialESP32(ctx, ESP32Config{Host: "127.0.0.1", WebSocketPort: 1}, discardLogger())
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("DialESP32() error = %v, want *OpenError", err)
	}

	_, err = DialESP32(ctx, ESP32Config{}, discardLogger())
	if !errors.As(err, &oe) {
		t.Errorf("DialESP32() without host = %v, want *OpenError", err)
	}
}
