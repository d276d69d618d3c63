package main

import "github.com/warden-project/warden/internal/cli"

func main() {
	cli.Execute()
}
