// Package find locates USB serial adapters, such as a Prologix GPIB-USB
// controller, by walking sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultSysRoot is where sysfs is mounted.
const DefaultSysRoot = "/sys"

type FilterFn func(*Usbtty) bool

// PrologixFilter matches Prologix GPIB-USB controllers (FTDI based).
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Prologix") || strings.Contains(ut.Prod, "Prologix")
}

// AR488Filter matches Arduino based AR488 GPIB adapters.
func AR488Filter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino")
}

func PiPicoFilter(ut *Usbtty) bool {
	return ut.Mfg == "Raspberry Pi" &&
		ut.Prod == "Pico"
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// AnyFilter matches when any of the given filters does.
func AnyFilter(filters ...FilterFn) FilterFn {
	return func(ut *Usbtty) bool {
		for _, f := range filters {
			if f(ut) {
				return true
			}
		}
		return false
	}
}

// Find searches for a usb serial device. If filter is not nil,
// it is used to narrow choices down. The first device for which
// it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	return FindIn(DefaultSysRoot, filter)
}

// FindIn is Find with sysfs mounted at root.
func FindIn(root string, filter FilterFn) (string, error) {
	ttys, err := AllUsbTtysIn(root)
	if err != nil {
		return "", err
	}
	if filter != nil {
		var matched Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				matched = Usbttys{ttys[i]}
				break
			}
		}
		ttys = matched
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys finds ttys on usb devices by looking at /sys/class/tty and
// the device directories it links to.
func AllUsbTtys() (Usbttys, error) {
	return AllUsbTtysIn(DefaultSysRoot)
}

// AllUsbTtysIn is AllUsbTtys with sysfs mounted at root.
func AllUsbTtysIn(root string) (Usbttys, error) {
	var devs Usbttys
	sct := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// we have a symlink like
		// /sys/class/tty/ttyACM0 ->
		// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0/tty/ttyACM0
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			zap.L().Debug("skipping tty", zap.String("path", path), zap.Error(err))
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		// device points at the interface, e.g.
		// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0
		// and the strings we want live one level up
		ut := Usbtty{Dev: e.Name(), Path: abs}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			zap.L().Debug("usb tty without device link", zap.String("path", abs), zap.Error(err))
			devs = append(devs, ut)
			continue
		}
		ut.IDp, ut.IDv, ut.Mfg, ut.Prod, ut.Serial, err = readUsbInfo(filepath.Dir(dev))
		if err != nil {
			zap.L().Debug("incomplete usb info", zap.String("path", abs), zap.Error(err))
		}
		devs = append(devs, ut)
	}
	return devs, nil
}

// readUsbInfo reads product and vendor ids, and mfg/product/serial strings.
//
// returns last error encountered, ignoring os.ErrNotExist.
// errors do not prevent reading additional files or returning data collected.
func readUsbInfo(dev string) (idp, idv, mfg, prod, serial string, err error) {
	read := func(name string) string {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		return strings.TrimSpace(string(b))
	}
	idp = read("idProduct")
	idv = read("idVendor")
	mfg = read("manufacturer")
	prod = read("product")
	serial = read("serial")
	return idp, idv, mfg, prod, serial, err
}
