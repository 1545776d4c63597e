package main

import "github.com/devicelab-dev/droid-agent/pkg/cli"

func main() {
	cli.Execute()
}
