//go:build !windows

package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

const xdgDesktopEntry = `[Desktop Entry]
Type=Application
Name=Labwatch Agent
Exec={{.Command}}
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

type entry struct {
	Label          string
	ExecutablePath string
	Args           []string
	Command        string
}

// entryPath returns the login item file for the current platform
func entryPath() (string, *template.Template, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil, err
	}
	switch runtime.GOOS {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", Label+".plist")
		return path, template.Must(template.New("plist").Parse(macLaunchAgentPlist)), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			dir = filepath.Join(home, ".config")
		}
		path := filepath.Join(dir, "autostart", Label+".desktop")
		return path, template.Must(template.New("desktop").Parse(xdgDesktopEntry)), nil
	default:
		return "", nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func enable(execPath string, args []string) error {
	path, tmpl, err := entryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, entry{
		Label:          Label,
		ExecutablePath: execPath,
		Args:           args,
		Command:        commandLine(execPath, args),
	})
}

func disable() error {
	path, _, err := entryPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isEnabled() bool {
	path, _, err := entryPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
