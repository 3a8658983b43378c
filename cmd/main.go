package main

import "legalguardian/internal/cli"

func main() {
	cli.Execute()
}
