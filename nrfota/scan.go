package nrfota

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// DefaultScanTimeout bounds device rediscovery after a bootloader reboot.
const DefaultScanTimeout = 30 * time.Second

// rebootSettleDelay gives the target time to restart advertising after a
// buttonless trigger or an activation reset.
const rebootSettleDelay = 1500 * time.Millisecond

// Device is a BLE device observed during a scan.
type Device struct {
	Name    string
	Address bluetooth.Address
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address.String()
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address.String())
}

var btAdapterEnabled bool

func defaultAdapter() (*bluetooth.Adapter, error) {
	a := bluetooth.DefaultAdapter
	if !btAdapterEnabled {
		if err := a.Enable(); err != nil {
			return nil, &GattError{Reason: "enabling BLE adapter", Err: err}
		}
		btAdapterEnabled = true
	}
	return a, nil
}

// Scan returns the named BLE devices observed within timeout.
func Scan(timeout time.Duration) ([]Device, error) {
	adapter, err := defaultAdapter()
	if err != nil {
		return nil, err
	}
	return scanDevices(adapter, timeout)
}

func scanDevices(adapter *bluetooth.Adapter, timeout time.Duration) ([]Device, error) {
	var found []Device
	seen := make(map[string]bool)

	timer := time.AfterFunc(timeout, func() { adapter.StopScan() })
	defer timer.Stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		addr := result.Address.String()
		if seen[addr] {
			return
		}
		seen[addr] = true
		found = append(found, Device{Name: name, Address: result.Address})
	})
	if err != nil {
		return nil, errors.Wrap(err, "scanning for devices")
	}
	return found, nil
}

// ResolveDevice scans until a device matching query is seen. A query shaped
// like a colon separated 6 byte hex string is matched against addresses,
// anything else is a case insensitive name substring.
func ResolveDevice(query string, timeout time.Duration) (Device, error) {
	adapter, err := defaultAdapter()
	if err != nil {
		return Device{}, err
	}
	return resolveDevice(adapter, query, timeout)
}

func resolveDevice(adapter *bluetooth.Adapter, query string, timeout time.Duration) (Device, error) {
	byAddress := isAddressQuery(query)

	var dev Device
	found := false

	timer := time.AfterFunc(timeout, func() { adapter.StopScan() })
	defer timer.Stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		match := false
		if byAddress {
			match = strings.EqualFold(result.Address.String(), query)
		} else {
			match = name != "" && strings.Contains(strings.ToLower(name), strings.ToLower(query))
		}
		if !match {
			return
		}
		dev = Device{Name: name, Address: result.Address}
		found = true
		a.StopScan()
	})
	if err != nil {
		return Device{}, errors.Wrap(err, "scanning for device")
	}
	if !found {
		return Device{}, &DeviceNotFoundError{Query: query, Timeout: timeout}
	}
	return dev, nil
}

// isAddressQuery reports whether q looks like AA:BB:CC:DD:EE:FF.
func isAddressQuery(q string) bool {
	parts := strings.Split(q, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		if _, err := strconv.ParseUint(p, 16, 8); err != nil {
			return false
		}
	}
	return true
}

// inBootloaderMode reports whether an advertised name signals the DFU
// bootloader rather than application firmware.
func inBootloaderMode(name string) bool {
	return strings.Contains(strings.ToUpper(name), "DFU")
}

// TriggerBootloader reboots an application mode device into its bootloader:
// a single 0x01 to the control point, written without response because the
// target resets before it could acknowledge. The session is closed; the
// caller rediscovers the target with FindDFUTarget.
func TriggerBootloader(s *GattSession) error {
	if err := s.WriteControl([]byte{byte(OpStartDFU)}, false); err != nil {
		// the reset can race the write; the link dropping here is expected
		log.Debugf("bootloader trigger write: %v", err)
	}
	return s.Close()
}

// FindDFUTarget scans for the bootloader a device rebooted into. A scan
// result matches if it advertises under the original address, the address
// with its last octet one higher or lower, or a name containing "DfuTarg" or
// the original name.
func FindDFUTarget(original Device, timeout time.Duration) (Device, error) {
	adapter, err := defaultAdapter()
	if err != nil {
		return Device{}, err
	}
	return findDFUTarget(adapter, original, timeout)
}

func findDFUTarget(adapter *bluetooth.Adapter, original Device, timeout time.Duration) (Device, error) {
	origAddr := original.Address.String()

	var dev Device
	found := false

	timer := time.AfterFunc(timeout, func() { adapter.StopScan() })
	defer timer.Stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !isDFUTarget(name, result.Address.String(), original.Name, origAddr) {
			return
		}
		dev = Device{Name: name, Address: result.Address}
		found = true
		a.StopScan()
	})
	if err != nil {
		return Device{}, errors.Wrap(err, "scanning for DFU target")
	}
	if !found {
		return Device{}, &DeviceNotFoundError{Query: original.String(), Timeout: timeout}
	}
	return dev, nil
}

// isDFUTarget decides whether a scan result is the rebooted bootloader of
// the device identified by origName/origAddr.
func isDFUTarget(name, addr, origName, origAddr string) bool {
	if strings.EqualFold(addr, origAddr) {
		return true
	}
	if addrAdjacent(addr, origAddr) {
		return true
	}
	upper := strings.ToUpper(name)
	if strings.Contains(upper, "DFUTARG") {
		return true
	}
	if origName != "" && strings.Contains(upper, strings.ToUpper(origName)) {
		return true
	}
	return false
}

// addrAdjacent reports whether two addresses differ only by +-1 in the last
// octet (wrapping). Some Nordic bootloaders increment the static address.
func addrAdjacent(a, b string) bool {
	pa, pb := strings.Split(a, ":"), strings.Split(b, ":")
	if len(pa) != 6 || len(pb) != 6 {
		return false
	}
	for i := 0; i < 5; i++ {
		if !strings.EqualFold(pa[i], pb[i]) {
			return false
		}
	}
	la, err := strconv.ParseUint(pa[5], 16, 8)
	if err != nil {
		return false
	}
	lb, err := strconv.ParseUint(pb[5], 16, 8)
	if err != nil {
		return false
	}
	diff := byte(la) - byte(lb)
	return diff == 1 || diff == 0xff
}
