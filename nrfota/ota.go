// Package nrfota flashes firmware to Nordic nRF5x devices running legacy
// DFU bootloaders (nRF5 SDK <= 15.x) over BLE. The typical flow is
// Scan/ResolveDevice to pick a target, then PerformDFU with the path to a
// bundle produced by `nrfutil pkg generate`.
package nrfota

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// PerformDFU runs a complete firmware update against target: parse the
// bundle, reboot an application-mode target into its bootloader, and drive
// every image in the bundle through transfer, validation and activation.
// Multi-image bundles rediscover the target between images, since each
// activation reboots it.
//
// Errors are not retried internally; the bootloader stays resident after a
// failed attempt, so the caller can simply call PerformDFU again.
func PerformDFU(zipPath string, target Device, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	bundle, err := OpenBundle(zipPath)
	if err != nil {
		return err
	}
	for _, img := range bundle.Images {
		line := ""
		if img.AppVersion != 0 {
			line = " v" + strconv.FormatUint(uint64(img.AppVersion), 10)
		}
		cfg.logf("Bundle %s: %s %s (%d bytes)%s, CRC %#04x",
			bundle.Name, img.Type, img.Name, len(img.Firmware), line, Checksum16(img.Firmware))
	}

	current := target
	for i, img := range bundle.Images {
		if i > 0 {
			// previous activation rebooted the target
			cfg.logf("Waiting for target to reboot before next image")
			time.Sleep(rebootSettleDelay)
			current, err = FindDFUTarget(target, cfg.ScanTimeout)
			if err != nil {
				return err
			}
			cfg.logf("Found DFU target %s", current)
		}

		sess, err := connectDFU(&current, &cfg)
		if err != nil {
			return err
		}
		err = NewFlasher(sess, cfg).Flash(img)
		sess.Close()
		if err != nil {
			return err
		}
	}

	cfg.logf("DFU complete, target rebooting into new firmware")
	return nil
}

// connectDFU opens a session to dev. If dev is still advertising in
// application mode, the bootloader is triggered first and dev is updated to
// the rediscovered DFU target.
func connectDFU(dev *Device, cfg *Config) (*GattSession, error) {
	adapter, err := defaultAdapter()
	if err != nil {
		return nil, err
	}

	if !inBootloaderMode(dev.Name) {
		cfg.logf("Target %s is in application mode, rebooting into bootloader", dev)
		sess, err := OpenSession(adapter, *dev)
		if err != nil {
			// no DFU service at all: not a DFU-capable device
			return nil, err
		}
		if err := TriggerBootloader(sess); err != nil {
			log.Debugf("closing trigger session: %v", err)
		}
		time.Sleep(rebootSettleDelay)

		found, err := findDFUTarget(adapter, *dev, cfg.ScanTimeout)
		if err != nil {
			return nil, err
		}
		cfg.logf("Found DFU target %s", found)
		*dev = found
	}

	sess, err := OpenSession(adapter, *dev)
	if err != nil {
		return nil, err
	}
	if major, minor, err := sess.ReadVersion(); err == nil {
		cfg.logf("DFU bootloader version %d.%d", major, minor)
	}
	return sess, nil
}
