package find

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out the class/tty symlinks and usb device strings the way
// the kernel does.
func fakeSysfs(t *testing.T, ttys map[string]map[string]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "tty"), 0o755))
	n := 0
	for name, info := range ttys {
		n++
		var ttyDir string
		if info == nil {
			ttyDir = filepath.Join(root, "devices", "platform", "serial8250", "tty", name)
			require.NoError(t, os.MkdirAll(ttyDir, 0o755))
		} else {
			usbDev := filepath.Join(root, "devices", "pci0000:00", "usb1", "1-"+string(rune('0'+n)))
			iface := filepath.Join(usbDev, "1-x:1.0")
			ttyDir = filepath.Join(iface, "tty", name)
			require.NoError(t, os.MkdirAll(ttyDir, 0o755))
			require.NoError(t, os.Symlink(iface, filepath.Join(ttyDir, "device")))
			for file, val := range info {
				require.NoError(t, os.WriteFile(filepath.Join(usbDev, file), []byte(val+"\n"), 0o644))
			}
		}
		require.NoError(t, os.Symlink(ttyDir, filepath.Join(root, "class", "tty", name)))
	}
	return root
}

func TestEnumerateTtys(t *testing.T) {
	root := fakeSysfs(t, map[string]map[string]string{
		"ttyS0": nil,
		"ttyUSB0": {
			"idVendor":     "0403",
			"idProduct":    "6001",
			"manufacturer": "Prologix",
			"product":      "Prologix GPIB-USB Controller",
			"serial":       "PX8X3YR6",
		},
		"ttyACM0": {
			"manufacturer": "Arduino (www.arduino.cc)",
			"product":      "AR488",
		},
	})

	ttys, err := AllUsbTtysIn(root)
	require.NoError(t, err)
	assert.Len(t, ttys, 2)

	dev, err := FindIn(root, PrologixFilter)
	require.NoError(t, err)
	assert.Equal(t, "ttyUSB0", dev)

	dev, err = FindIn(root, AR488Filter)
	require.NoError(t, err)
	assert.Equal(t, "ttyACM0", dev)

	dev, err = FindIn(root, SerialFilter("PX8X3YR6"))
	require.NoError(t, err)
	assert.Equal(t, "ttyUSB0", dev)

	_, err = FindIn(root, PiPicoFilter)
	assert.Error(t, err)

	_, err = FindIn(root, nil)
	assert.Error(t, err, "two usb ttys without a filter are ambiguous")
}

func TestAnyFilter(t *testing.T) {
	ut := Usbtty{Mfg: "Arduino LLC"}
	assert.True(t, AnyFilter(PrologixFilter, AR488Filter)(&ut))
	assert.False(t, AnyFilter(PrologixFilter, PiPicoFilter)(&ut))
}
