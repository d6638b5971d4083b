package main

import (
	"os"

	"github.com/cronshield/cronshield/cmd/cronshield/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
