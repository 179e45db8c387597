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
	"fmt"
	"time"

	"github.com/nrf5x-tools/nrfota/nrfota"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List named BLE devices in range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := time.Duration(scanSeconds * float64(time.Second))
		devices, err := nrfota.Scan(timeout)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No named BLE devices found.")
			return nil
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
