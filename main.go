package main

import (
	"kolmowatch/internal/cli"
)

func main() {
	cli.Execute()
}
