package nrfota

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const manifestName = "manifest.json"

// noAppVersion is the sentinel nrfutil writes when no application version
// was assigned.
const noAppVersion = 0xFFFFFFFF

// manifest mirrors the JSON emitted by `nrfutil pkg generate`.
type manifest struct {
	Manifest map[string]manifestEntry `json:"manifest"`
}

type manifestEntry struct {
	BinFile        string          `json:"bin_file"`
	DatFile        string          `json:"dat_file"`
	SDSize         uint32          `json:"sd_size"`
	BLSize         uint32          `json:"bl_size"`
	InitPacketData *initPacketData `json:"init_packet_data"`
}

type initPacketData struct {
	FirmwareCRC16      *uint16 `json:"firmware_crc16"`
	ApplicationVersion *uint32 `json:"application_version"`
}

// Image is one firmware image extracted from a DFU bundle, ready to be
// handed to the state machine.
type Image struct {
	Type       ImageType
	Name       string // bin file name inside the archive
	InitPacket []byte
	Firmware   []byte

	// split sizes for combined softdevice+bootloader images
	SDSize uint32
	BLSize uint32

	// AppVersion is 0 when absent or set to the nrfutil sentinel.
	AppVersion uint32
}

// Bundle is a parsed Nordic DFU ZIP.
type Bundle struct {
	Name   string // file stem of the archive
	Images []Image
}

var imageGroups = map[string]ImageType{
	"softdevice":            ImageSoftDevice,
	"bootloader":            ImageBootloader,
	"softdevice_bootloader": ImageSoftDeviceBootloader,
	"application":           ImageApplication,
}

// groupOrder is the flash order: stack images before the application, so a
// multi-image bundle reboots into its new bootloader before the app goes in.
var groupOrder = []string{"softdevice_bootloader", "softdevice", "bootloader", "application"}

// OpenBundle parses the DFU ZIP at path.
func OpenBundle(path string) (*Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &BundleMalformedError{Reason: err.Error()}
	}
	defer zr.Close()

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return readBundle(&zr.Reader, stem)
}

func readBundle(zr *zip.Reader, name string) (*Bundle, error) {
	raw, err := zipEntry(zr, manifestName)
	if err != nil {
		return nil, &BundleMalformedError{Reason: "manifest.json not found in archive"}
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &BundleMalformedError{Reason: errors.Wrap(err, "decoding manifest.json").Error()}
	}
	if len(m.Manifest) == 0 {
		return nil, &BundleMalformedError{Reason: "manifest declares no images"}
	}

	for group := range m.Manifest {
		if _, ok := imageGroups[group]; !ok {
			return nil, &BundleUnsupportedError{Group: group}
		}
	}

	b := &Bundle{Name: name}
	for _, group := range groupOrder {
		entry, ok := m.Manifest[group]
		if !ok {
			continue
		}
		img, err := readImage(zr, imageGroups[group], entry)
		if err != nil {
			return nil, err
		}
		b.Images = append(b.Images, img)
	}
	return b, nil
}

func readImage(zr *zip.Reader, t ImageType, entry manifestEntry) (Image, error) {
	img := Image{Type: t, Name: entry.BinFile}

	if entry.BinFile == "" || entry.DatFile == "" {
		return img, &BundleMalformedError{Reason: fmt.Sprintf("image group %s does not name both bin_file and dat_file", t)}
	}

	var err error
	if img.Firmware, err = zipEntry(zr, entry.BinFile); err != nil {
		return img, &BundleMalformedError{Reason: fmt.Sprintf("manifest references %q which is not in the archive", entry.BinFile)}
	}
	if img.InitPacket, err = zipEntry(zr, entry.DatFile); err != nil {
		return img, &BundleMalformedError{Reason: fmt.Sprintf("manifest references %q which is not in the archive", entry.DatFile)}
	}
	if len(img.Firmware) == 0 {
		return img, &BundleMalformedError{Reason: fmt.Sprintf("firmware file %q is empty", entry.BinFile)}
	}
	if len(img.InitPacket) == 0 {
		return img, &BundleMalformedError{Reason: fmt.Sprintf("init packet %q is empty", entry.DatFile)}
	}

	if t == ImageSoftDeviceBootloader {
		img.SDSize, img.BLSize = entry.SDSize, entry.BLSize
		if img.SDSize == 0 || img.BLSize == 0 {
			return img, &BundleUnsupportedError{Group: "softdevice_bootloader (missing sd_size/bl_size)"}
		}
		if img.SDSize+img.BLSize != uint32(len(img.Firmware)) {
			return img, &BundleMalformedError{Reason: fmt.Sprintf("sd_size+bl_size (%d) does not match firmware length (%d)", img.SDSize+img.BLSize, len(img.Firmware))}
		}
	}

	if ipd := entry.InitPacketData; ipd != nil {
		// the manifest carries the CRC the target will compute; checking it
		// here catches a corrupt archive before any BLE traffic
		if ipd.FirmwareCRC16 != nil {
			if got := Checksum16(img.Firmware); got != *ipd.FirmwareCRC16 {
				return img, &BundleMalformedError{Reason: fmt.Sprintf("firmware CRC mismatch for %q: manifest %#04x, computed %#04x", entry.BinFile, *ipd.FirmwareCRC16, got)}
			}
		}
		if v := ipd.ApplicationVersion; v != nil && *v != noAppVersion {
			img.AppVersion = *v
		}
	}

	return img, nil
}

func zipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %q", name)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("no entry %q", name)
}
