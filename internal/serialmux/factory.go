package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens the device at path with go.bug.st/serial.
func OpenSerial(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// Open opens path with open and wraps it in a SerialMux. A nil open uses
// OpenSerial.
func Open(path string, opts PortOptions, open Opener) (*SerialMux[SerialPorter], error) {
	if open == nil {
		open = OpenSerial
	}
	port, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
