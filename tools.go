//go:build tools

// Package tools pins the command-line tools this repository's workflows
// run (mutation testing, benchmark comparison) so `go mod tidy` keeps
// their modules in go.mod at known versions.
package tools

import (
	_ "github.com/go-gremlins/gremlins/cmd/gremlins"
	_ "golang.org/x/perf/cmd/benchstat"
)
