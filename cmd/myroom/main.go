package main

import "myroom/internal/cli"

func main() {
	cli.Execute()
}
