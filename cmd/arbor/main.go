package main

import "github.com/jmcleod/arbor/cmd/arbor/cmd"

func main() {
	cmd.Execute()
}
