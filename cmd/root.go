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
	"os"

	"github.com/nrf5x-tools/nrfota/nrfota"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	deviceQuery string
	quiet       bool
	prn         uint16
	scanSeconds float64
)

var rootCmd = &cobra.Command{
	Use:          "nrfota <firmware.zip>",
	Short:        "Flash legacy DFU firmware to a Nordic nRF5x device over BLE",
	Long: `nrfota uploads a firmware bundle produced by 'nrfutil pkg generate' to an
nRF5x target running a legacy DFU bootloader (nRF5 SDK 15.x and earlier).
Application-mode targets with buttonless DFU support are rebooted into the
bootloader automatically.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			log.SetLevel(log.ErrorLevel)
		}
	},
	RunE: runFlash,
}

// Execute runs the root command. Any DFU failure exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&deviceQuery, "device", "d", "", "target device: AA:BB:CC:DD:EE:FF address or name substring")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all non-error output")
	rootCmd.PersistentFlags().Float64VarP(&scanSeconds, "timeout", "t", 5.0, "BLE scan timeout in seconds")
	rootCmd.Flags().Uint16Var(&prn, "prn", nrfota.DefaultPacketsPerReceipt(), "packets per receipt notification (lower is safer, higher is faster)")
}
