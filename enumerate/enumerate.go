// Package enumerate lists the serial ports present on a Linux host and,
// for USB adapters, their vendor and product metadata.
package enumerate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"github.com/spf13/afero"
)

const (
	classTTY   = "/sys/class/tty"
	usbDevices = "/sys/bus/usb/devices"
	devDir     = "/dev"
)

// PortType is the physical kind of a serial port.
type PortType int

const (
	Unknown PortType = iota
	USB
	PCI
	Bluetooth
)

func (t PortType) String() string {
	switch t {
	case USB:
		return "USB"
	case PCI:
		return "PCI"
	case Bluetooth:
		return "Bluetooth"
	}
	return "Unknown"
}

// USBInfo describes the USB device behind a port.
type USBInfo struct {
	VID          gousb.ID
	PID          gousb.ID
	Manufacturer string
	Product      string
	Serial       string
	Bus          int
	Address      int
}

// PortInfo is one serial port.
type PortInfo struct {
	Name string // device path, e.g. /dev/ttyUSB0
	Type PortType
	USB  *USBInfo
}

// Describer reads USB string descriptors for the device at bus/address.
// It fills what sysfs does not expose.
type Describer interface {
	Describe(bus, address int) (manufacturer, product, serial string, err error)
}

// List returns the serial ports found under /sys in fs, sorted by name.
// d may be nil.
func List(fs afero.Fs, d Describer) ([]PortInfo, error) {
	entries, err := afero.ReadDir(fs, classTTY)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", classTTY, err)
	}
	usb, err := usbPorts(fs)
	if err != nil {
		return nil, err
	}

	var ports []PortInfo
	for _, e := range entries {
		name := e.Name()
		uevent, err := readUevent(fs, classTTY+"/"+name+"/device/uevent")
		if errors.Is(err, os.ErrNotExist) {
			// Virtual terminals have no backing device.
			continue
		}
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, "ttyS") {
			// Legacy 8250 slots without a UART report type 0.
			if typ, err := readAttr(fs, classTTY+"/"+name+"/type"); err == nil && typ == "0" {
				continue
			}
		}

		p := PortInfo{Name: devDir + "/" + name}
		switch info, ok := usb[name]; {
		case ok:
			p.Type = USB
			p.USB = describe(info, d)
		case uevent["PCI_ID"] != "":
			p.Type = PCI
		case strings.HasPrefix(name, "rfcomm"):
			p.Type = Bluetooth
		}
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

func describe(info USBInfo, d Describer) *USBInfo {
	if d != nil && info.Bus != 0 && (info.Manufacturer == "" || info.Product == "" || info.Serial == "") {
		if m, p, s, err := d.Describe(info.Bus, info.Address); err == nil {
			info.Manufacturer = firstNonEmpty(info.Manufacturer, m)
			info.Product = firstNonEmpty(info.Product, p)
			info.Serial = firstNonEmpty(info.Serial, s)
		}
	}
	return &info
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// usbPorts maps tty names to the USB device that provides them.
func usbPorts(fs afero.Fs) (map[string]USBInfo, error) {
	ports := make(map[string]USBInfo)
	devs, err := afero.ReadDir(fs, usbDevices)
	if errors.Is(err, os.ErrNotExist) {
		return ports, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", usbDevices, err)
	}
	for _, dev := range devs {
		if strings.Contains(dev.Name(), ":") {
			continue // interface, not a device
		}
		base := usbDevices + "/" + dev.Name()
		info, ok := readUSBInfo(fs, base)
		if !ok {
			continue
		}
		ifaces, err := afero.ReadDir(fs, base)
		if err != nil {
			continue
		}
		for _, iface := range ifaces {
			if !strings.HasPrefix(iface.Name(), dev.Name()+":") {
				continue
			}
			for _, tty := range ttyNames(fs, base+"/"+iface.Name()) {
				ports[tty] = info
			}
		}
	}
	return ports, nil
}

// ttyNames finds usb-serial (ifaceDir/ttyUSBn) and cdc-acm
// (ifaceDir/tty/ttyACMn) children of an interface directory.
func ttyNames(fs afero.Fs, ifaceDir string) []string {
	children, err := afero.ReadDir(fs, ifaceDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, c := range children {
		switch {
		case strings.HasPrefix(c.Name(), "ttyUSB"):
			names = append(names, c.Name())
		case c.Name() == "tty":
			sub, err := afero.ReadDir(fs, ifaceDir+"/tty")
			if err != nil {
				continue
			}
			for _, s := range sub {
				names = append(names, s.Name())
			}
		}
	}
	return names
}

func readUSBInfo(fs afero.Fs, base string) (USBInfo, bool) {
	vid, err := readID(fs, base+"/idVendor")
	if err != nil {
		return USBInfo{}, false
	}
	pid, err := readID(fs, base+"/idProduct")
	if err != nil {
		return USBInfo{}, false
	}
	info := USBInfo{VID: vid, PID: pid}
	info.Manufacturer, _ = readAttr(fs, base+"/manufacturer")
	info.Product, _ = readAttr(fs, base+"/product")
	info.Serial, _ = readAttr(fs, base+"/serial")
	if s, err := readAttr(fs, base+"/busnum"); err == nil {
		info.Bus, _ = strconv.Atoi(s)
	}
	if s, err := readAttr(fs, base+"/devnum"); err == nil {
		info.Address, _ = strconv.Atoi(s)
	}
	return info, true
}

func readAttr(fs afero.Fs, path string) (string, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readID(fs afero.Fs, path string) (gousb.ID, error) {
	s, err := readAttr(fs, path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return gousb.ID(v), nil
}

func readUevent(fs afero.Fs, path string) (map[string]string, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	ev := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), "="); ok {
			ev[k] = v
		}
	}
	return ev, sc.Err()
}

// Format prints one port name per line or, with info, a detailed block per
// port.
func Format(w io.Writer, ports []PortInfo, info bool) error {
	for _, p := range ports {
		if !info {
			if _, err := fmt.Fprintln(w, p.Name); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n%s\n\n", p.Name, details(p)); err != nil {
			return err
		}
	}
	return nil
}

func details(p PortInfo) string {
	if p.Type != USB || p.USB == nil {
		return "  - Port Type: " + p.Type.String()
	}
	u := p.USB
	return fmt.Sprintf("  - Port Type: USB [VID: %s, PID: %s]\n  - Manufacturer: %s\n  - Product: %s\n  - Serial: %s",
		u.VID, u.PID, u.Manufacturer, u.Product, u.Serial)
}
