//go:build !windows

package main

// Process exit codes, following the usual shell conventions
const (
	exitSuccess         = 0
	exitArgumentParsing = 2
	exitCannotMake      = 1
	exitBadArguments    = 128
)
