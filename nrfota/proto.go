package nrfota

import (
	"encoding/binary"
	"fmt"
)

// Legacy DFU GATT UUIDs (nRF5 SDK <= 15.x bootloaders).
const (
	DFUServiceUUID      = "00001530-1212-efde-1523-785feabcd123"
	DFUControlPointUUID = "00001531-1212-efde-1523-785feabcd123"
	DFUPacketUUID       = "00001532-1212-efde-1523-785feabcd123"
	DFUVersionUUID      = "00001534-1212-efde-1523-785feabcd123"
)

// Control point messages are single GATT writes of at most 20 bytes, the
// first byte being the opcode.
type OpCode byte

const (
	OpStartDFU              OpCode = 0x01
	OpInitDFUParams         OpCode = 0x02
	OpReceiveFirmware       OpCode = 0x03
	OpValidateFirmware      OpCode = 0x04
	OpActivateReset         OpCode = 0x05
	OpPacketReceiptNotifReq OpCode = 0x08
	OpResponse              OpCode = 0x10
	OpPacketReceiptNotif    OpCode = 0x11
)

func (op OpCode) String() string {
	switch op {
	case OpStartDFU:
		return "START_DFU"
	case OpInitDFUParams:
		return "INIT_DFU_PARAMS"
	case OpReceiveFirmware:
		return "RECEIVE_FIRMWARE_IMAGE"
	case OpValidateFirmware:
		return "VALIDATE_FIRMWARE"
	case OpActivateReset:
		return "ACTIVATE_AND_RESET"
	case OpPacketReceiptNotifReq:
		return "PKT_RCPT_NOTIF_REQ"
	case OpResponse:
		return "RESPONSE"
	case OpPacketReceiptNotif:
		return "PKT_RCPT_NOTIF"
	}
	return fmt.Sprintf("OP_%#02x", byte(op))
}

// Status codes carried in response notifications.
type Status byte

const (
	StatusSuccess         Status = 0x01
	StatusInvalidState    Status = 0x02
	StatusNotSupported    Status = 0x03
	StatusDataSizeExceeds Status = 0x04
	StatusCRCError        Status = 0x05
	StatusOperationFailed Status = 0x06
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusDataSizeExceeds:
		return "DATA_SIZE_EXCEEDS_LIMIT"
	case StatusCRCError:
		return "CRC_ERROR"
	case StatusOperationFailed:
		return "OPERATION_FAILED"
	}
	return fmt.Sprintf("STATUS_%#02x", byte(s))
}

// ImageType is the bitmask identifying which image(s) a transfer contains.
// It is sent as the second byte of START_DFU.
type ImageType byte

const (
	ImageSoftDevice           ImageType = 0x01
	ImageBootloader           ImageType = 0x02
	ImageSoftDeviceBootloader ImageType = 0x03
	ImageApplication          ImageType = 0x04
)

func (t ImageType) String() string {
	switch t {
	case ImageSoftDevice:
		return "softdevice"
	case ImageBootloader:
		return "bootloader"
	case ImageSoftDeviceBootloader:
		return "softdevice+bootloader"
	case ImageApplication:
		return "application"
	}
	return fmt.Sprintf("image-type-%#02x", byte(t))
}

// packetChunkSize is the payload size per write to the packet characteristic.
const packetChunkSize = 20

const (
	initParamsReceive  byte = 0x00
	initParamsComplete byte = 0x01
)

func startCommand(t ImageType) []byte {
	return []byte{byte(OpStartDFU), byte(t)}
}

func initParamsCommand(complete bool) []byte {
	arg := initParamsReceive
	if complete {
		arg = initParamsComplete
	}
	return []byte{byte(OpInitDFUParams), arg}
}

func receiveFirmwareCommand() []byte {
	return []byte{byte(OpReceiveFirmware)}
}

func validateCommand() []byte {
	return []byte{byte(OpValidateFirmware)}
}

func activateCommand() []byte {
	return []byte{byte(OpActivateReset)}
}

func receiptIntervalCommand(n uint16) []byte {
	cmd := make([]byte, 3)
	cmd[0] = byte(OpPacketReceiptNotifReq)
	binary.LittleEndian.PutUint16(cmd[1:], n)
	return cmd
}

// sizePacket builds the image size header written to the packet
// characteristic after START_DFU: three uint32 LE fields for softdevice,
// bootloader and application sizes. The fields are selected by the
// image-type bitmask and sum to the firmware length.
func (img *Image) sizePacket() []byte {
	var sd, bl, app uint32
	switch img.Type {
	case ImageSoftDevice:
		sd = uint32(len(img.Firmware))
	case ImageBootloader:
		bl = uint32(len(img.Firmware))
	case ImageSoftDeviceBootloader:
		sd, bl = img.SDSize, img.BLSize
	case ImageApplication:
		app = uint32(len(img.Firmware))
	}
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:], sd)
	binary.LittleEndian.PutUint32(hdr[4:], bl)
	binary.LittleEndian.PutUint32(hdr[8:], app)
	return hdr
}

// Response is a control point response notification (opcode 0x10).
type Response struct {
	Request OpCode
	Status  Status
}

func (r *Response) FromWire(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("response notification too short: % 02x", data)
	}
	if OpCode(data[0]) != OpResponse {
		return fmt.Errorf("not a response notification: % 02x", data)
	}
	r.Request = OpCode(data[1])
	r.Status = Status(data[2])
	return nil
}

// Receipt is a packet receipt notification (opcode 0x11) reporting the
// cumulative payload byte count the target has received.
type Receipt struct {
	BytesReceived uint32
}

func (r *Receipt) FromWire(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("receipt notification too short: % 02x", data)
	}
	if OpCode(data[0]) != OpPacketReceiptNotif {
		return fmt.Errorf("not a receipt notification: % 02x", data)
	}
	r.BytesReceived = binary.LittleEndian.Uint32(data[1:5])
	return nil
}

func isReceipt(data []byte) bool {
	return len(data) > 0 && OpCode(data[0]) == OpPacketReceiptNotif
}
