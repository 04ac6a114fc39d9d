package transport

import (
	"io"

	"go.bug.st/serial"
)

// OpenSerial opens a serial device at the given baud rate with 8N1 framing.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &OpenError{Device: device, Err: err}
	}
	return port, nil
}

// SerialPorts lists the serial devices present on the host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
