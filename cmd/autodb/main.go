// Package main is the single-binary entrypoint for autodb.
package main

import "github.com/sitebook/autodb/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
