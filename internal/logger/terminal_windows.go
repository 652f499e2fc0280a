//go:build windows

package logger

// isTerminal always reports false on Windows; ANSI color output is not
// reliable across console hosts, so plain text is used.
func isTerminal(fd uintptr) bool {
	return false
}
