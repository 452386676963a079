package main

import (
	"os"

	"storyweaver/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
