package main

import "fmt"

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionString() string {
	return fmt.Sprintf("stepgraph %s (commit %s, built %s)", version, commit, date)
}
