// Copyright © 2025 the nrfota authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nrf5x-tools/nrfota/nrfota"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func runFlash(cmd *cobra.Command, args []string) error {
	zipPath := args[0]
	scanTimeout := time.Duration(scanSeconds * float64(time.Second))

	target, err := pickTarget(scanTimeout)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("Selected: %s\n\n", target)
	}

	opts := []nrfota.Option{
		nrfota.WithPacketsPerReceipt(prn),
		nrfota.WithScanTimeout(scanTimeout),
	}
	if !quiet {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("flashing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts,
			nrfota.WithProgress(func(pct float64) { bar.Set(int(pct)) }),
			nrfota.WithLog(func(msg string) { fmt.Println("  " + msg) }),
		)
	}

	if err := nrfota.PerformDFU(zipPath, target, opts...); err != nil {
		return err
	}
	if !quiet {
		fmt.Println("\nUpdate complete.")
	}
	return nil
}

// pickTarget resolves --device, or scans and lets the user choose.
func pickTarget(scanTimeout time.Duration) (nrfota.Device, error) {
	if deviceQuery != "" {
		return nrfota.ResolveDevice(deviceQuery, scanTimeout)
	}
	if quiet {
		return nrfota.Device{}, fmt.Errorf("--quiet requires --device")
	}

	fmt.Printf("Scanning for BLE devices (%.0f s)...\n", scanTimeout.Seconds())
	devices, err := nrfota.Scan(scanTimeout)
	if err != nil {
		return nrfota.Device{}, err
	}
	if len(devices) == 0 {
		return nrfota.Device{}, fmt.Errorf("no named BLE devices found")
	}

	fmt.Printf("\nFound %d device(s):\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  [%d] %s\n", i, d)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("\nSelect device [0-%d]: ", len(devices)-1)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nrfota.Device{}, fmt.Errorf("aborted")
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || idx < 0 || idx >= len(devices) {
			fmt.Printf("  Please enter a number between 0 and %d.\n", len(devices)-1)
			continue
		}
		return devices[idx], nil
	}
}
