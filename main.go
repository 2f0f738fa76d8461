package main

import (
	"github.com/sw33tLie/scadrift/cmd"
)

func main() {
	cmd.Execute()
}
