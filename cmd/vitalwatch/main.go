package main

import (
	"os"

	"github.com/gmsas95/vitalwatch/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute(os.Args[1:]))
}
