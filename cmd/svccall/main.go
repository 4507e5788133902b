package main

import (
	"os"
	"svccall/cmd/svccall/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
