package nrfota

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSizePacket(t *testing.T) {
	cases := []struct {
		name string
		img  Image
		want [3]uint32 // sd, bl, app
	}{
		{"application", Image{Type: ImageApplication, Firmware: make([]byte, 4096)}, [3]uint32{0, 0, 4096}},
		{"softdevice", Image{Type: ImageSoftDevice, Firmware: make([]byte, 151016)}, [3]uint32{151016, 0, 0}},
		{"bootloader", Image{Type: ImageBootloader, Firmware: make([]byte, 16384)}, [3]uint32{0, 16384, 0}},
		{"combined", Image{Type: ImageSoftDeviceBootloader, Firmware: make([]byte, 120), SDSize: 100, BLSize: 20}, [3]uint32{100, 20, 0}},
	}

	for _, tc := range cases {
		hdr := tc.img.sizePacket()
		if len(hdr) != 12 {
			t.Fatalf("%s: header length %d, want 12", tc.name, len(hdr))
		}
		got := [3]uint32{
			binary.LittleEndian.Uint32(hdr[0:]),
			binary.LittleEndian.Uint32(hdr[4:]),
			binary.LittleEndian.Uint32(hdr[8:]),
		}
		if got != tc.want {
			t.Errorf("%s: header fields %v, want %v", tc.name, got, tc.want)
		}
		if sum := got[0] + got[1] + got[2]; sum != uint32(len(tc.img.Firmware)) {
			t.Errorf("%s: header sum %d does not match firmware length %d", tc.name, sum, len(tc.img.Firmware))
		}
	}
}

func TestCommandEncoding(t *testing.T) {
	if got := startCommand(ImageApplication); !bytes.Equal(got, []byte{0x01, 0x04}) {
		t.Errorf("startCommand = % 02x", got)
	}
	if got := initParamsCommand(false); !bytes.Equal(got, []byte{0x02, 0x00}) {
		t.Errorf("initParamsCommand(receive) = % 02x", got)
	}
	if got := initParamsCommand(true); !bytes.Equal(got, []byte{0x02, 0x01}) {
		t.Errorf("initParamsCommand(complete) = % 02x", got)
	}
	if got := receiptIntervalCommand(10); !bytes.Equal(got, []byte{0x08, 0x0a, 0x00}) {
		t.Errorf("receiptIntervalCommand(10) = % 02x", got)
	}
	if got := receiptIntervalCommand(0x1234); !bytes.Equal(got, []byte{0x08, 0x34, 0x12}) {
		t.Errorf("receiptIntervalCommand(0x1234) = % 02x", got)
	}
}

func TestResponseFromWire(t *testing.T) {
	var rsp Response
	if err := rsp.FromWire([]byte{0x10, 0x03, 0x01}); err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if rsp.Request != OpReceiveFirmware || rsp.Status != StatusSuccess {
		t.Errorf("parsed response = %+v", rsp)
	}

	if err := rsp.FromWire([]byte{0x10, 0x03}); err == nil {
		t.Error("short response accepted")
	}
	if err := rsp.FromWire([]byte{0x11, 0x03, 0x01}); err == nil {
		t.Error("receipt accepted as response")
	}
}

func TestReceiptFromWire(t *testing.T) {
	var rcpt Receipt
	if err := rcpt.FromWire([]byte{0x11, 0x00, 0x10, 0x00, 0x00}); err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if rcpt.BytesReceived != 4096 {
		t.Errorf("BytesReceived = %d, want 4096", rcpt.BytesReceived)
	}

	if err := rcpt.FromWire([]byte{0x11, 0x00}); err == nil {
		t.Error("short receipt accepted")
	}
	if err := rcpt.FromWire([]byte{0x10, 0x00, 0x00, 0x00, 0x00}); err == nil {
		t.Error("response accepted as receipt")
	}
}
