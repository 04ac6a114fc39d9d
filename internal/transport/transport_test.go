package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPump(t *testing.T) {
	out := make(chan []byte, 8)
	r := strings.NewReader("ok\r\n<Idle|MPos:0.000,0.000,0.000>\r\n")

	if err := Pump(context.Background(), r, out); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	close(out)

	var got bytes.Buffer
	for chunk := range out {
		got.Write(chunk)
	}
	if got.String() != "ok\r\n<Idle|MPos:0.000,0.000,0.000>\r\n" {
		t.Errorf("Pump() delivered %q", got.String())
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestPumpReadError(t *testing.T) {
	boom := errors.New("device unplugged")
	err := Pump(context.Background(), failingReader{err: boom}, make(chan []byte))
	if !errors.Is(err, boom) {
		t.Errorf("Pump() error = %v, want %v", err, boom)
	}
}

func TestPumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never read: the pump must give up on ctx.
	err := Pump(ctx, strings.NewReader("data"), make(chan []byte))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Pump() error = %v, want context.Canceled", err)
	}
}

func TestInert(t *testing.T) {
	cause := errors.New("no such file or directory")
	in := NewInert("/dev/ttyUSB0", cause)

	if _, err := in.Write([]byte("$H\r")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := in.Read(make([]byte, 16))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Read() returned %v before Close", err)
	case <-time.After(20 * time.Millisecond):
	}

	in.Close()
	in.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("Read() error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() did not return after Close")
	}
}

func TestOpenError(t *testing.T) {
	cause := errors.New("permission denied")
	var err error = &OpenError{Device: "/dev/ttyACM0", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("OpenError does not unwrap to its cause")
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Device != "/dev/ttyACM0" {
		t.Errorf("errors.As() = %v", oe)
	}
	if !strings.Contains(err.Error(), "/dev/ttyACM0") {
		t.Errorf("Error() = %q, want device name", err.Error())
	}
}

func TestOpenWithRetry(t *testing.T) {
	boom := errors.New("busy")
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"first attempt succeeds", 0, 1, false},
		{"succeeds on retry", 2, 3, false},
		{"retries exhausted", 10, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := OpenWithRetry(context.Background(), cfg, discardLogger(), func() (string, error) {
				calls++
				if calls <= tt.failures {
					return "", boom
				}
				return "port", nil
			})

			if calls != tt.wantCalls {
				t.Errorf("open called %d times, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr {
				if !errors.Is(err, boom) {
					t.Errorf("error = %v, want wrapped %v", err, boom)
				}
				return
			}
			if err != nil || got != "port" {
				t.Errorf("OpenWithRetry() = %q, %v", got, err)
			}
		})
	}
}

func TestOpenWithRetryNoRetries(t *testing.T) {
	boom := errors.New("busy")
	_, err := OpenWithRetry(context.Background(), RetryConfig{}, discardLogger(), func() (int, error) {
		return 0, boom
	})
	if err != boom {
		t.Errorf("error = %v, want the unwrapped open error", err)
	}
}

func TestOpenWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Hour, Multiplier: 2}
	_, err := OpenWithRetry(ctx, cfg, discardLogger(), func() (int, error) {
		return 0, errors.New("busy")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
