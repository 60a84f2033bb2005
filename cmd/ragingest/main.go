package main

import "ragingest/internal/cli"

func main() {
	cli.Execute()
}
