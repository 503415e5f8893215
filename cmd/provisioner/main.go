package main

import "github.com/carrierhub/provisioner/internal/cli"

func main() {
	cli.Execute()
}
