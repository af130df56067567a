// Package autostart registers the relay to start on login.
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
    <string>com.softkvm.relay</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>{{.Role}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>`

const plistName = "com.softkvm.relay.plist"

// Enable registers the current binary to start on login, running the given
// role.
func Enable(role string) error {
	switch runtime.GOOS {
	case "darwin":
		return enableMac(role)
	case "windows":
		return enableWindows(role)
	default:
		return fmt.Errorf("autostart: unsupported platform %s", runtime.GOOS)
	}
}

// Disable removes the login registration.
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		return disableMac()
	case "windows":
		return disableWindows()
	default:
		return fmt.Errorf("autostart: unsupported platform %s", runtime.GOOS)
	}
}

// IsEnabled reports whether a login registration exists.
func IsEnabled() bool {
	switch runtime.GOOS {
	case "darwin":
		return isEnabledMac()
	case "windows":
		return isEnabledWindows()
	default:
		return false
	}
}

func enableMac(role string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: resolve executable path: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	launchAgentsDir := filepath.Join(home, "Library", "LaunchAgents")
	if err := os.MkdirAll(launchAgentsDir, 0755); err != nil {
		return err
	}

	tmpl, err := template.New("plist").Parse(macLaunchAgentPlist)
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(launchAgentsDir, plistName))
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, struct {
		ExecutablePath string
		Role           string
	}{execPath, role})
}

func disableMac() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	plistPath := filepath.Join(home, "Library", "LaunchAgents", plistName)
	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isEnabledMac() bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(home, "Library", "LaunchAgents", plistName))
	return err == nil
}

// Windows registration goes through the per-user Startup folder: a .bat
// shim avoids needing registry access or shortcut COM plumbing.
func startupBatPath() (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		return "", fmt.Errorf("autostart: APPDATA not set")
	}
	return filepath.Join(appData,
		"Microsoft", "Windows", "Start Menu", "Programs", "Startup", "softkvm.bat"), nil
}

func enableWindows(role string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: resolve executable path: %w", err)
	}

	batPath, err := startupBatPath()
	if err != nil {
		return err
	}

	content := fmt.Sprintf("@echo off\r\nstart \"\" \"%s\" %s\r\n", execPath, role)
	return os.WriteFile(batPath, []byte(content), 0644)
}

func disableWindows() error {
	batPath, err := startupBatPath()
	if err != nil {
		return err
	}
	if err := os.Remove(batPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isEnabledWindows() bool {
	batPath, err := startupBatPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(batPath)
	return err == nil
}
