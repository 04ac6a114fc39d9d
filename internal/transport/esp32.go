package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned by ESP32.Write when commands arrive faster than
// they can be forwarded.
var ErrQueueFull = errors.New("esp32 command queue full")

const esp32QueueSize = 64

// ESP32Config addresses a GRBL-ESP32 controller. Device output is streamed
// over a WebSocket; commands are sent as HTTP GET requests.
type ESP32Config struct {
	Host              string
	HTTPPort          int
	WebSocketPort     int
	CommandsPerSecond float64

	// HTTPClient sends commands (default: 5s timeout)
	HTTPClient *http.Client
}

func (c ESP32Config) commandURL() string {
	host := c.Host
	if c.HTTPPort != 0 && c.HTTPPort != 80 {
		host = net.JoinHostPort(c.Host, strconv.Itoa(c.HTTPPort))
	}
	return (&url.URL{Scheme: "http", Host: host, Path: "/command"}).String()
}

func (c ESP32Config) socketURL() string {
	port := c.WebSocketPort
	if port == 0 {
		port = 81
	}
	return (&url.URL{Scheme: "ws", Host: net.JoinHostPort(c.Host, strconv.Itoa(port)), Path: "/"}).String()
}

// ESP32 is a GRBL-ESP32 session presented as a byte stream. Writes are
// split into command lines and forwarded one HTTP request each; reads
// return the payload of WebSocket frames. Session control frames
// (CURRENT_ID, ACTIVE_ID, PING) are consumed here.
type ESP32 struct {
	cfg     ESP32Config
	conn    *websocket.Conn
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger

	frames  chan []byte
	queue   chan string
	pending []byte

	mu         sync.Mutex
	sessionID  string
	mismatches int
	readErr    error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialESP32 connects to the controller's WebSocket and starts forwarding
// commands. Connection failures are reported as *OpenError.
func DialESP32(ctx context.Context, cfg ESP32Config, logger *log.Logger) (*ESP32, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Host == "" {
		return nil, &OpenError{Device: "esp32", Err: errors.New("no host configured")}
	}

	wsURL := cfg.socketURL()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &OpenError{Device: wsURL, Err: err}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	limit := rate.Inf
	if cfg.CommandsPerSecond > 0 {
		limit = rate.Limit(cfg.CommandsPerSecond)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e := &ESP32{
		cfg:     cfg,
		conn:    conn,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		frames:  make(chan []byte, 16),
		queue:   make(chan string, esp32QueueSize),
		ctx:     runCtx,
		cancel:  cancel,
	}
	logger.Printf("[esp32] connected to %s", wsURL)

	e.wg.Add(2)
	go e.readLoop()
	go e.sendLoop()
	return e, nil
}

func (e *ESP32) readLoop() {
	defer e.wg.Done()
	defer close(e.frames)
	for {
		kind, data, err := e.conn.ReadMessage()
		if err != nil {
			if e.ctx.Err() == nil {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
		if kind == websocket.TextMessage && e.handleControl(string(data)) {
			continue
		}
		select {
		case e.frames <- data:
		case <-e.ctx.Done():
			return
		}
	}
}

// handleControl consumes session frames and reports whether msg was one.
func (e *ESP32) handleControl(msg string) bool {
	name, id, ok := strings.Cut(strings.TrimSpace(msg), ":")
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch name {
	case "CURRENT_ID":
		e.sessionID = id
		e.logger.Printf("[esp32] session id %s", id)
	case "ACTIVE_ID", "PING":
		if id != e.sessionID {
			e.mismatches++
			e.logger.Printf("[esp32] warning: %s %s does not match session %s", name, id, e.sessionID)
		}
	default:
		return false
	}
	return true
}

func (e *ESP32) sendLoop() {
	defer e.wg.Done()
	for {
		var cmd string
		select {
		case <-e.ctx.Done():
			return
		case cmd = <-e.queue:
		}
		if err := e.limiter.Wait(e.ctx); err != nil {
			return
		}
		if err := e.sendCommand(cmd); err != nil {
			e.logger.Printf("[esp32] %v", err)
		}
	}
}

func (e *ESP32) sendCommand(cmd string) error {
	params := url.Values{}
	params.Set("commandText", cmd)
	if id := e.SessionID(); id != "" {
		params.Set("PAGEID", id)
	}

	req, err := http.NewRequestWithContext(e.ctx, http.MethodGet, e.cfg.commandURL()+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build command request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("command %q failed: %w", cmd, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("command %q: HTTP %d", cmd, resp.StatusCode)
	}
	return nil
}

// Read returns WebSocket payload bytes. It returns io.EOF once the
// session is closed.
func (e *ESP32) Read(p []byte) (int, error) {
	if len(e.pending) == 0 {
		data, ok := <-e.frames
		if !ok {
			e.mu.Lock()
			err := e.readErr
			e.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		e.pending = data
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

// Write queues every non-empty line of p as one command. Terminators are
// dropped since each HTTP request carries exactly one command.
func (e *ESP32) Write(p []byte) (int, error) {
	if e.ctx.Err() != nil {
		return 0, net.ErrClosed
	}
	lines := bytes.FieldsFunc(p, func(r rune) bool { return r == '\r' || r == '\n' })
	for _, line := range lines {
		select {
		case e.queue <- string(line):
		default:
			return 0, ErrQueueFull
		}
	}
	return len(p), nil
}

// SessionID returns the id announced by the controller, empty until the
// first CURRENT_ID frame.
func (e *ESP32) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Mismatches counts ACTIVE_ID and PING frames for a different session.
func (e *ESP32) Mismatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mismatches
}

// Close ends the session. Pending Reads return io.EOF.
func (e *ESP32) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		e.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = e.conn.Close()
		e.wg.Wait()
	})
	return err
}
