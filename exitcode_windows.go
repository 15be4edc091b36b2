//go:build windows

package main

// Process exit codes, mapped to Windows system error codes
// (ERROR_CANNOT_MAKE and ERROR_BAD_ARGUMENTS)
const (
	exitSuccess         = 0
	exitArgumentParsing = 2
	exitCannotMake      = 82
	exitBadArguments    = 160
)
