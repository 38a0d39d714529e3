package main

import "image-optimizer/internal/cli"

func main() {
	cli.Execute()
}
