//go:build windows

package lockfile

import "os"

// pidRunning has no signal-0 equivalent on Windows; FindProcess always
// succeeds there, so treat "process object obtainable" as our best signal.
func pidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
