package main

import (
	"github.com/credit-markets/vitalfi-data/internal/cli"
)

func main() {
	cli.Execute()
}
