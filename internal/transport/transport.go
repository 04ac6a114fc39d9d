// Package transport opens the byte streams to the GPS receiver and the
// motion controller.
//
// Every stream is an io.ReadWriteCloser owned by exactly one consumer.
// Reads are turned into chunk events by Pump so that a single event loop
// can select over them.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotConnected is returned by writes to an inert stream.
var ErrNotConnected = errors.New("device not connected")

// OpenError reports a device that could not be opened.
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Device, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Pump reads from r and sends each chunk to out until r returns an error
// or ctx is cancelled. io.EOF ends the pump without error. A blocked read
// is only interrupted by closing the underlying stream.
func Pump(ctx context.Context, r io.Reader, out chan<- []byte) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- bytes.Clone(buf[:n]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Inert stands in for a device that failed to open. Reads block until
// Close, writes fail with ErrNotConnected.
type Inert struct {
	Device string
	Cause  error

	done chan struct{}
	once sync.Once
}

// NewInert creates an inert stream for device.
func NewInert(device string, cause error) *Inert {
	return &Inert{Device: device, Cause: cause, done: make(chan struct{})}
}

func (i *Inert) Read([]byte) (int, error) {
	<-i.done
	return 0, io.EOF
}

func (i *Inert) Write([]byte) (int, error) {
	return 0, fmt.Errorf("%s: %w", i.Device, ErrNotConnected)
}

func (i *Inert) Close() error {
	i.once.Do(func() { close(i.done) })
	return nil
}
