package serial

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// listPorts is replaced in tests.
var listPorts = func() ([]*enumerator.PortDetails, error) { return enumerator.GetDetailedPortsList() }

// ListPorts enumerates the serial ports of the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}

// ResolveDevice maps a USB product description or a "vid:pid" pair onto a
// device path. Paths (/dev/..., COMn) are returned unchanged, as is any
// description nothing matches.
func ResolveDevice(dev string) string {
	if strings.HasPrefix(dev, "/dev/") || strings.HasPrefix(strings.ToUpper(dev), "COM") {
		return dev
	}
	ports, err := ListPorts()
	if err != nil {
		return dev
	}
	for _, p := range ports {
		if p.Product == dev {
			return p.Name
		}
		if p.USB && strings.EqualFold(p.VID+":"+p.PID, dev) {
			return p.Name
		}
	}
	return dev
}
