package main

import (
	"os"

	"github.com/wanyview/kaidison-system/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
