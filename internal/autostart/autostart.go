// Package autostart registers the agent to start when the user logs in.
package autostart

import (
	"fmt"
	"os"
	"strings"
)

// Label identifies the agent's login item on every platform
const Label = "com.labwatch.agent"

// Enable registers the running executable, with args, to start on login
func Enable(args ...string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	return enable(execPath, args)
}

// Disable removes the login item
func Disable() error {
	return disable()
}

// IsEnabled checks if auto-start is enabled
func IsEnabled() bool {
	return isEnabled()
}

// Apply enables or disables auto-start to match want
func Apply(want bool, args ...string) error {
	if want == IsEnabled() {
		return nil
	}
	if want {
		return Enable(args...)
	}
	return Disable()
}

// commandLine quotes the executable and arguments for shells and the
// Windows Run key.
func commandLine(execPath string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, p := range append([]string{execPath}, args...) {
		if strings.ContainsAny(p, " \t\"") {
			p = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
