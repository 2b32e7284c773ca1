package serial

import (
	"fmt"
	"io"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one enumerated serial port. Name is the OS path used
// as the port identifier everywhere in the manager.
type PortInfo struct {
	Name         string `json:"name"`
	USB          bool   `json:"usb"`
	VendorID     string `json:"vendorId,omitempty"`
	ProductID    string `json:"productId,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Enumerator lists the serial ports the OS currently exposes.
type Enumerator interface {
	Ports() ([]PortInfo, error)
}

// Opener opens a port at a baud rate with 8N1 framing.
type Opener interface {
	Open(name string, baud int) (io.ReadCloser, error)
}

// SystemEnumerator enumerates ports through go.bug.st/serial.
type SystemEnumerator struct{}

func (SystemEnumerator) Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VendorID:     d.VID,
			ProductID:    d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// SystemOpener opens ports through go.bug.st/serial.
type SystemOpener struct{}

func (SystemOpener) Open(name string, baud int) (io.ReadCloser, error) {
	port, err := bugst.Open(name, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", name, baud, err)
	}
	return port, nil
}
