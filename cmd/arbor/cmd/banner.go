package cmd

import (
	"fmt"
)

const banner = `
     _         _
    / \   _ __| |__   ___  _ __
   / _ \ | '__| '_ \ / _ \| '__|
  / ___ \| |  | |_) | (_) | |
 /_/   \_\_|  |_.__/ \___/|_|
`

func printBanner() {
	fmt.Printf("\x1b[32m%s\x1b[0m\n", banner)
	fmt.Printf("\x1b[32m  Credential and Attachment Server - Version %s\x1b[0m\n\n", Version)
}
