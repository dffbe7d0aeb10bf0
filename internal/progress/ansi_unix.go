//go:build !windows

package progress

import "os"

// enableWindowsANSI is a no-op; Unix terminals handle ANSI natively.
func enableWindowsANSI(f *os.File) {}
