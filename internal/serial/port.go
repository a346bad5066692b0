// Package serial opens the UART the CRSF module is attached to and funnels
// outbound frames through a single writer goroutine.
package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"

	"github.com/tarm/serial"
)

// Port abstracts the serial drivers for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Driver selects the serial implementation.
type Driver string

const (
	// DriverAuto uses tarm for rates it knows and go.bug.st otherwise.
	DriverAuto  Driver = "auto"
	DriverTarm  Driver = "tarm"
	DriverBugst Driver = "bugst"
)

// ParseDriver validates a driver name.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(s); d {
	case DriverAuto, DriverTarm, DriverBugst:
		return d, nil
	case "":
		return DriverAuto, nil
	}
	return "", fmt.Errorf("unknown serial driver %q (use auto|tarm|bugst)", s)
}

// tarmRates are the speeds tarm/serial maps onto Bxxx constants. CRSF rates
// such as 400000 and 420000 are not among them.
var tarmRates = map[int]struct{}{
	50: {}, 75: {}, 110: {}, 134: {}, 150: {}, 200: {}, 300: {}, 600: {},
	1200: {}, 1800: {}, 2400: {}, 4800: {}, 9600: {}, 19200: {}, 38400: {},
	57600: {}, 115200: {}, 230400: {}, 460800: {}, 500000: {}, 576000: {},
	921600: {}, 1000000: {}, 1152000: {}, 1500000: {}, 2000000: {},
	2500000: {}, 3000000: {}, 3500000: {}, 4000000: {},
}

// Resolve returns the concrete driver for baud.
func (d Driver) Resolve(baud int) Driver {
	if d != DriverAuto {
		return d
	}
	if _, ok := tarmRates[baud]; ok {
		return DriverTarm
	}
	return DriverBugst
}

// Open opens name at baud with the automatic driver choice. Reads return
// after readTimeout even when nothing arrived so the caller can run its
// time-based checks.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	return OpenWith(DriverAuto, name, baud, readTimeout)
}

// OpenWith opens the port using a specific driver.
func OpenWith(d Driver, name string, baud int, readTimeout time.Duration) (Port, error) {
	switch d.Resolve(baud) {
	case DriverTarm:
		return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
	default:
		p, err := bugst.Open(name, &bugst.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   bugst.NoParity,
			StopBits: bugst.OneStopBit,
		})
		if err != nil {
			return nil, err
		}
		if readTimeout > 0 {
			if err := p.SetReadTimeout(readTimeout); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
		}
		return p, nil
	}
}
