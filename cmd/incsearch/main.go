package main

import (
	"os"

	"github.com/dl/incsearch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
