package enumerate

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// ErrNoDevice is returned when no USB device sits at the requested address.
var ErrNoDevice = errors.New("no usb device at address")

// USBDescriber reads string descriptors through libusb.
type USBDescriber struct{}

func (USBDescriber) Describe(bus, address int) (string, string, string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == address
	})
	// All returned devices are now open and will need to be closed.
	for _, d := range devs {
		defer d.Close()
	}
	if err != nil {
		return "", "", "", fmt.Errorf("OpenDevices(): %w", err)
	}
	if len(devs) == 0 {
		return "", "", "", fmt.Errorf("%w %d:%d", ErrNoDevice, bus, address)
	}

	dev := devs[0]
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()
	serial, _ := dev.SerialNumber()
	return manufacturer, product, serial, nil
}
