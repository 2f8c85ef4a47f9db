package main

import (
	"os"

	"boardcache/cmd/boardcache/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
