package nrfota

import (
	"encoding/binary"
	"sync"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// Transport is the GATT surface the state machine drives. The production
// implementation is GattSession; tests substitute a scripted fake.
type Transport interface {
	// WriteControl writes to the DFU control point characteristic.
	WriteControl(data []byte, withResponse bool) error
	// WritePacket writes without response to the DFU packet characteristic.
	WritePacket(data []byte) error
	// Notifications delivers control point notifications in arrival order.
	Notifications() <-chan []byte
	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
	Close() error
}

var (
	dfuServiceUUID      = mustUUID(DFUServiceUUID)
	dfuControlPointUUID = mustUUID(DFUControlPointUUID)
	dfuPacketUUID       = mustUUID(DFUPacketUUID)
	dfuVersionUUID      = mustUUID(DFUVersionUUID)
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("nrfota: bad UUID literal " + s)
	}
	return u
}

// GattSession is a live BLE connection to a device exposing the legacy DFU
// service. One session owns the connection exclusively for the duration of a
// DFU conversation.
type GattSession struct {
	device  bluetooth.Device
	service bluetooth.DeviceService
	control bluetooth.DeviceCharacteristic
	packet  bluetooth.DeviceCharacteristic

	notifs   chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

// OpenSession connects to target, resolves the legacy DFU characteristics
// and subscribes to control point notifications. Returns ErrNoDFUService if
// the device does not expose the DFU service.
func OpenSession(adapter *bluetooth.Adapter, target Device) (*GattSession, error) {
	s := &GattSession{
		notifs: make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	// one connection at a time per the session model, so any disconnect
	// event belongs to this link
	adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected {
			s.markDisconnected()
		}
	})

	dev, err := adapter.Connect(target.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, &GattError{Reason: "connecting to " + target.String(), Err: err}
	}
	s.device = dev

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{dfuServiceUUID})
	if err != nil || len(svcs) == 0 {
		dev.Disconnect()
		return nil, ErrNoDFUService
	}
	s.service = svcs[0]

	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{dfuControlPointUUID, dfuPacketUUID})
	if err != nil || len(chars) < 2 {
		dev.Disconnect()
		return nil, ErrNoDFUService
	}
	s.control, s.packet = chars[0], chars[1]

	err = s.control.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		select {
		case s.notifs <- data:
		default:
			log.Warnf("dropping control point notification, queue full: % 02x", data)
		}
	})
	if err != nil {
		dev.Disconnect()
		return nil, &GattError{Reason: "subscribing to control point", Err: err}
	}

	return s, nil
}

// ReadVersion reads the optional DFU version characteristic. Not every
// bootloader exposes it, so failure is reported, not fatal.
func (s *GattSession) ReadVersion() (major, minor byte, err error) {
	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{dfuVersionUUID})
	if err != nil || len(chars) == 0 {
		return 0, 0, &GattError{Reason: "DFU version characteristic not found", Err: err}
	}
	buf := make([]byte, 2)
	n, err := chars[0].Read(buf)
	if err != nil || n < 2 {
		return 0, 0, &GattError{Reason: "reading DFU version", Err: err}
	}
	v := binary.LittleEndian.Uint16(buf)
	return byte(v >> 8), byte(v), nil
}

func (s *GattSession) WriteControl(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = s.control.Write(data)
	} else {
		_, err = s.control.WriteWithoutResponse(data)
	}
	if err != nil {
		return &GattError{Reason: "control point write", Err: err}
	}
	return nil
}

func (s *GattSession) WritePacket(data []byte) error {
	if _, err := s.packet.WriteWithoutResponse(data); err != nil {
		return &GattError{Reason: "packet write", Err: err}
	}
	return nil
}

func (s *GattSession) Notifications() <-chan []byte {
	return s.notifs
}

func (s *GattSession) Disconnected() <-chan struct{} {
	return s.done
}

func (s *GattSession) Close() error {
	s.markDisconnected()
	return s.device.Disconnect()
}

func (s *GattSession) markDisconnected() {
	s.doneOnce.Do(func() { close(s.done) })
}
