package nrfota

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func buildZip(t *testing.T, entries map[string][]byte) *zip.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopening zip: %v", err)
	}
	return zr
}

func appManifest(crc uint16, version uint32) []byte {
	return []byte(fmt.Sprintf(`{"manifest": {"application": {
		"bin_file": "app.bin", "dat_file": "app.dat",
		"init_packet_data": {"firmware_crc16": %d, "application_version": %d}
	}}}`, crc, version))
}

func TestReadBundleApplication(t *testing.T) {
	fw := bytes.Repeat([]byte{0x5A}, 256)
	zr := buildZip(t, map[string][]byte{
		"manifest.json": appManifest(Checksum16(fw), 3),
		"app.bin":       fw,
		"app.dat":       {0x01, 0x02, 0x03, 0x04},
	})

	b, err := readBundle(zr, "firmware")
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	if b.Name != "firmware" {
		t.Errorf("bundle name = %q", b.Name)
	}
	if len(b.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(b.Images))
	}
	img := b.Images[0]
	if img.Type != ImageApplication {
		t.Errorf("image type = %s", img.Type)
	}
	if !bytes.Equal(img.Firmware, fw) {
		t.Error("firmware bytes differ")
	}
	if len(img.InitPacket) != 4 {
		t.Errorf("init packet = % 02x", img.InitPacket)
	}
	if img.AppVersion != 3 {
		t.Errorf("app version = %d, want 3", img.AppVersion)
	}
}

func TestReadBundleVersionSentinel(t *testing.T) {
	fw := []byte{1, 2, 3}
	zr := buildZip(t, map[string][]byte{
		"manifest.json": appManifest(Checksum16(fw), 0xFFFFFFFF),
		"app.bin":       fw,
		"app.dat":       {0xAA},
	})
	b, err := readBundle(zr, "x")
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	if b.Images[0].AppVersion != 0 {
		t.Errorf("sentinel version surfaced as %d", b.Images[0].AppVersion)
	}
}

func TestReadBundleMissingManifest(t *testing.T) {
	zr := buildZip(t, map[string][]byte{"app.bin": {1}})
	_, err := readBundle(zr, "x")
	var malformed *BundleMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want BundleMalformedError", err)
	}
}

func TestReadBundleBadJSON(t *testing.T) {
	zr := buildZip(t, map[string][]byte{"manifest.json": []byte("{nope")})
	_, err := readBundle(zr, "x")
	var malformed *BundleMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want BundleMalformedError", err)
	}
}

func TestReadBundleMissingBin(t *testing.T) {
	zr := buildZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest": {"application": {"bin_file": "app.bin", "dat_file": "app.dat"}}}`),
		"app.dat":       {1},
	})
	_, err := readBundle(zr, "x")
	var malformed *BundleMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want BundleMalformedError", err)
	}
}

func TestReadBundleUnknownGroup(t *testing.T) {
	zr := buildZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest": {"mesh_application": {"bin_file": "a", "dat_file": "b"}}}`),
	})
	_, err := readBundle(zr, "x")
	var unsupported *BundleUnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want BundleUnsupportedError", err)
	}
	if unsupported.Group != "mesh_application" {
		t.Errorf("group = %q", unsupported.Group)
	}
}

func TestReadBundleCRCMismatch(t *testing.T) {
	fw := []byte{1, 2, 3, 4}
	zr := buildZip(t, map[string][]byte{
		"manifest.json": appManifest(Checksum16(fw)+1, 1),
		"app.bin":       fw,
		"app.dat":       {0xAA},
	})
	_, err := readBundle(zr, "x")
	var malformed *BundleMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want BundleMalformedError", err)
	}
}

func TestReadBundleCombinedSizes(t *testing.T) {
	fw := make([]byte, 120)
	good := []byte(`{"manifest": {"softdevice_bootloader": {
		"bin_file": "sd_bl.bin", "dat_file": "sd_bl.dat", "sd_size": 100, "bl_size": 20}}}`)
	zr := buildZip(t, map[string][]byte{
		"manifest.json": good,
		"sd_bl.bin":     fw,
		"sd_bl.dat":     {0xAA},
	})
	b, err := readBundle(zr, "x")
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	img := b.Images[0]
	if img.Type != ImageSoftDeviceBootloader || img.SDSize != 100 || img.BLSize != 20 {
		t.Errorf("combined image = %+v", img)
	}

	bad := []byte(`{"manifest": {"softdevice_bootloader": {
		"bin_file": "sd_bl.bin", "dat_file": "sd_bl.dat", "sd_size": 90, "bl_size": 20}}}`)
	zr = buildZip(t, map[string][]byte{
		"manifest.json": bad,
		"sd_bl.bin":     fw,
		"sd_bl.dat":     {0xAA},
	})
	if _, err := readBundle(zr, "x"); err == nil {
		t.Error("size mismatch accepted")
	}
}

func TestReadBundleMultiImageOrder(t *testing.T) {
	bl := make([]byte, 40)
	app := make([]byte, 60)
	zr := buildZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest": {
			"application": {"bin_file": "app.bin", "dat_file": "app.dat"},
			"bootloader": {"bin_file": "bl.bin", "dat_file": "bl.dat"}}}`),
		"app.bin": app,
		"app.dat": {1},
		"bl.bin":  bl,
		"bl.dat":  {2},
	})
	b, err := readBundle(zr, "x")
	if err != nil {
		t.Fatalf("readBundle: %v", err)
	}
	if len(b.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(b.Images))
	}
	// the bootloader flashes before the application
	if b.Images[0].Type != ImageBootloader || b.Images[1].Type != ImageApplication {
		t.Errorf("image order = %s, %s", b.Images[0].Type, b.Images[1].Type)
	}
}

func TestOpenBundleNameFromStem(t *testing.T) {
	fw := []byte{9, 9, 9}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range map[string][]byte{
		"manifest.json": []byte(`{"manifest": {"application": {"bin_file": "app.bin", "dat_file": "app.dat"}}}`),
		"app.bin":       fw,
		"app.dat":       {1},
	} {
		w, _ := zw.Create(name)
		w.Write(data)
	}
	zw.Close()

	path := filepath.Join(t.TempDir(), "blinky_v2.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := OpenBundle(path)
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	if b.Name != "blinky_v2" {
		t.Errorf("bundle name = %q, want blinky_v2", b.Name)
	}
}

func TestOpenBundleNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.zip")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenBundle(path)
	var malformed *BundleMalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want BundleMalformedError", err)
	}
}
