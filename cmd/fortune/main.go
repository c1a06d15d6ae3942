package main

import "github.com/mcoot/fortunegame/internal/cli"

func main() {
	cli.Execute()
}
