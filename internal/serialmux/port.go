package serialmux

import (
	"io"
)

// SerialPorter is the part of a serial port the mux needs. It lets tests run
// without hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Opener opens a serial port. OpenSerial is the real implementation; tests
// substitute their own.
type Opener func(path string, opts PortOptions) (SerialPorter, error)
