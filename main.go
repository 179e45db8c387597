package main

import "github.com/nrf5x-tools/nrfota/cmd"

func main() {
	cmd.Execute()
}
