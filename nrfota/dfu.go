package nrfota

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Flasher drives one firmware image through the legacy DFU conversation:
// START_DFU, the init packet exchange, the receipt-gated image transfer,
// validation and activation. It consumes control point notifications from
// the transport in arrival order; nothing else reads them.
type Flasher struct {
	transport Transport
	cfg       Config

	// shrinkable by tests
	responseTimeout time.Duration
	activateTimeout time.Duration

	sent uint32
	crc  *CRC16
}

func NewFlasher(t Transport, cfg Config) *Flasher {
	if cfg.PacketsPerReceipt == 0 {
		cfg.PacketsPerReceipt = DefaultPacketsPerReceipt()
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	return &Flasher{
		transport:       t,
		cfg:             cfg,
		responseTimeout: cfg.ResponseTimeout,
		activateTimeout: defaultActivateTimeout,
	}
}

// Flash runs the full update lifecycle for one image, through activation.
// On return the target has rebooted into the new firmware (nil error) or the
// transfer was aborted; the bootloader persists across aborts, so the caller
// may simply retry from the top.
func (f *Flasher) Flash(img Image) error {
	if err := f.start(img); err != nil {
		return err
	}
	if err := f.sendInitPacket(img.InitPacket); err != nil {
		return err
	}
	if err := f.transfer(img.Firmware); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	return f.activate()
}

// start sends START_DFU with the image type, then the size header to the
// packet characteristic, and waits for the target to accept.
func (f *Flasher) start(img Image) error {
	f.cfg.logf("Starting DFU: %s, %d bytes", img.Type, len(img.Firmware))
	if err := f.transport.WriteControl(startCommand(img.Type), true); err != nil {
		return err
	}
	if err := f.transport.WritePacket(img.sizePacket()); err != nil {
		return err
	}
	return f.expectSuccess(OpStartDFU, PhaseStart)
}

// sendInitPacket streams the init packet in 20 byte chunks between the
// receive/complete bracket of INIT_DFU_PARAMS.
func (f *Flasher) sendInitPacket(init []byte) error {
	f.cfg.logf("Sending init packet (%d bytes)", len(init))
	if err := f.transport.WriteControl(initParamsCommand(false), true); err != nil {
		return err
	}
	for off := 0; off < len(init); off += packetChunkSize {
		end := off + packetChunkSize
		if end > len(init) {
			end = len(init)
		}
		if err := f.transport.WritePacket(init[off:end]); err != nil {
			return err
		}
	}
	if err := f.transport.WriteControl(initParamsCommand(true), true); err != nil {
		return err
	}
	return f.expectSuccess(OpInitDFUParams, PhaseInit)
}

// transfer streams the firmware image in 20 byte packets, pausing for a
// receipt notification after every PacketsPerReceipt packets. Each receipt's
// byte count is checked against what the host has sent.
func (f *Flasher) transfer(fw []byte) error {
	f.sent = 0
	f.crc = NewCRC16()

	if err := f.transport.WriteControl(receiptIntervalCommand(f.cfg.PacketsPerReceipt), true); err != nil {
		return err
	}
	if err := f.transport.WriteControl(receiveFirmwareCommand(), true); err != nil {
		return err
	}

	f.cfg.logf("Sending firmware (%d bytes)", len(fw))
	total := uint32(len(fw))
	window := uint16(0)

	for off := 0; off < len(fw); off += packetChunkSize {
		end := off + packetChunkSize
		if end > len(fw) {
			end = len(fw)
		}
		chunk := fw[off:end]
		if err := f.transport.WritePacket(chunk); err != nil {
			return err
		}
		f.sent += uint32(len(chunk))
		f.crc.Write(chunk)

		window++
		if window == f.cfg.PacketsPerReceipt {
			if err := f.awaitReceipt(); err != nil {
				return err
			}
			window = 0
			f.cfg.progress(float64(f.sent) * 100 / float64(total))
		}
	}

	if err := f.expectSuccess(OpReceiveFirmware, PhaseTransfer); err != nil {
		return err
	}
	f.cfg.progress(100)
	log.Debugf("firmware delivered, running CRC %#04x", f.crc.Sum16())
	return nil
}

func (f *Flasher) validate() error {
	f.cfg.logf("Validating firmware on target")
	if err := f.transport.WriteControl(validateCommand(), true); err != nil {
		return err
	}
	return f.expectSuccess(OpValidateFirmware, PhaseValidate)
}

// activate sends ACTIVATE_AND_RESET and treats the resulting disconnect as
// success. No response is awaited: the target reboots immediately, and the
// write itself may already fail with the link going down.
func (f *Flasher) activate() error {
	f.cfg.logf("Activating new firmware")
	if err := f.transport.WriteControl(activateCommand(), true); err != nil {
		log.Debugf("activate write failed, link presumably dropping: %v", err)
	}
	select {
	case <-f.transport.Disconnected():
		f.cfg.logf("Target disconnected, update activated")
		return nil
	case <-time.After(f.activateTimeout):
		return &TimeoutError{Phase: PhaseActivate, Wait: f.activateTimeout}
	}
}

// expectSuccess waits for the response to op and turns any non-success
// status into a ProtocolError.
func (f *Flasher) expectSuccess(op OpCode, phase Phase) error {
	st, err := f.awaitResponse(op, phase)
	if err != nil {
		return err
	}
	if st != StatusSuccess {
		return &ProtocolError{Op: op, Status: st}
	}
	return nil
}

// awaitResponse blocks until the response notification for op arrives.
// Receipt notifications seen meanwhile are validated and skipped: some
// bootloaders emit a final receipt just before the transfer response.
func (f *Flasher) awaitResponse(op OpCode, phase Phase) (Status, error) {
	deadline := time.After(f.responseTimeout)
	for {
		select {
		case data, ok := <-f.transport.Notifications():
			if !ok {
				return 0, &GattError{Reason: fmt.Sprintf("notification stream closed in %s phase", phase)}
			}
			if isReceipt(data) {
				if err := f.checkReceipt(data); err != nil {
					return 0, err
				}
				continue
			}
			var rsp Response
			if err := rsp.FromWire(data); err != nil {
				return 0, errors.Wrapf(err, "in %s phase", phase)
			}
			if rsp.Request != op {
				return 0, errors.Errorf("response for %s while awaiting %s", rsp.Request, op)
			}
			return rsp.Status, nil
		case <-f.transport.Disconnected():
			return 0, &GattError{Reason: fmt.Sprintf("disconnected in %s phase", phase)}
		case <-deadline:
			return 0, &TimeoutError{Phase: phase, Wait: f.responseTimeout}
		}
	}
}

// awaitReceipt blocks until the next receipt notification and checks its
// byte count. A response notification here means the target aborted the
// transfer on its own.
func (f *Flasher) awaitReceipt() error {
	deadline := time.After(f.responseTimeout)
	select {
	case data, ok := <-f.transport.Notifications():
		if !ok {
			return &GattError{Reason: "notification stream closed awaiting receipt"}
		}
		if isReceipt(data) {
			return f.checkReceipt(data)
		}
		var rsp Response
		if err := rsp.FromWire(data); err != nil {
			return errors.Wrap(err, "awaiting receipt")
		}
		if rsp.Status != StatusSuccess {
			return &ProtocolError{Op: rsp.Request, Status: rsp.Status}
		}
		return errors.Errorf("unexpected %s response mid-transfer", rsp.Request)
	case <-f.transport.Disconnected():
		return &GattError{Reason: "disconnected mid-transfer"}
	case <-deadline:
		return &TimeoutError{Phase: PhaseTransfer, Wait: f.responseTimeout}
	}
}

func (f *Flasher) checkReceipt(data []byte) error {
	var rcpt Receipt
	if err := rcpt.FromWire(data); err != nil {
		return err
	}
	if rcpt.BytesReceived != f.sent {
		return &ByteCountMismatchError{Sent: f.sent, Reported: rcpt.BytesReceived}
	}
	return nil
}
