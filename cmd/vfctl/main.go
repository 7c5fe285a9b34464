package main

import "vidforge/cmd/cli"

func main() {
	cli.Execute()
}
