package main

import (
	"github.com/pipeguard/pipeguard/cmd"
)

func main() {
	cmd.Execute()
}
