package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ServiceConfig describes a gateway to run as a user service.
type ServiceConfig struct {
	BinaryPath string // full path to the kvstore binary
	Namespace  string
	Host       string
	Port       int
	LogDir     string // stdout/stderr destination
	HomeDir    string // defaults to the user's home directory
}

// InstallResult describes an installed or removed service file.
type InstallResult struct {
	ServiceFile  string
	Platform     string // "launchd" or "systemd"
	Instructions string
}

func (c ServiceConfig) home() string {
	if c.HomeDir != "" {
		return c.HomeDir
	}
	home, _ := os.UserHomeDir()
	return home
}

func (c ServiceConfig) args() []string {
	return []string{
		c.BinaryPath, "serve",
		"--namespace", c.Namespace,
		"--host", c.Host,
		"--port", fmt.Sprint(c.Port),
	}
}

// Install writes the service definition for the current platform.
func Install(cfg ServiceConfig) (*InstallResult, error) {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(cfg)
	case "linux":
		return installSystemd(cfg)
	default:
		return nil, fmt.Errorf("unsupported platform: %s (use macOS or Linux)", runtime.GOOS)
	}
}

// Uninstall removes the service definition for cfg.Namespace.
func Uninstall(cfg ServiceConfig) (*InstallResult, error) {
	switch runtime.GOOS {
	case "darwin":
		return uninstall(launchdPlistPath(cfg), "launchd", "launchctl unload "+launchdPlistPath(cfg))
	case "linux":
		return uninstall(systemdUnitPath(cfg), "systemd",
			"systemctl --user disable --now "+systemdUnitName(cfg.Namespace))
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func writeServiceFile(path, logDir, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create service dir: %w", err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write service file: %w", err)
	}
	return nil
}

func uninstall(path, platform, followup string) (*InstallResult, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("service not installed (no file at %s)", path)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("remove service file: %w", err)
	}
	return &InstallResult{
		ServiceFile:  path,
		Platform:     platform,
		Instructions: fmt.Sprintf("Service removed: %s\nIf it was running, also run:\n  %s", path, followup),
	}, nil
}

// launchd

func launchdLabel(namespace string) string {
	return "dev.kvstore." + namespace
}

func launchdPlistPath(cfg ServiceConfig) string {
	return filepath.Join(cfg.home(), "Library", "LaunchAgents", launchdLabel(cfg.Namespace)+".plist")
}

// GenerateLaunchdPlist renders the launchd agent for cfg.
func GenerateLaunchdPlist(cfg ServiceConfig) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>` + launchdLabel(cfg.Namespace) + `</string>
  <key>ProgramArguments</key>
  <array>
`)
	for _, arg := range cfg.args() {
		sb.WriteString("    <string>" + arg + "</string>\n")
	}
	sb.WriteString(`  </array>
  <key>RunAtLoad</key>
  <true/>
  <key>KeepAlive</key>
  <true/>
  <key>StandardOutPath</key>
  <string>` + filepath.Join(cfg.LogDir, "serve.log") + `</string>
  <key>StandardErrorPath</key>
  <string>` + filepath.Join(cfg.LogDir, "serve.err") + `</string>
</dict>
</plist>
`)
	return sb.String()
}

func installLaunchd(cfg ServiceConfig) (*InstallResult, error) {
	path := launchdPlistPath(cfg)
	if err := writeServiceFile(path, cfg.LogDir, GenerateLaunchdPlist(cfg)); err != nil {
		return nil, err
	}
	return &InstallResult{
		ServiceFile: path,
		Platform:    "launchd",
		Instructions: fmt.Sprintf(`Service installed: %s

  Start now:  launchctl load %s
  Stop:       launchctl unload %s
  Logs:       tail -f %s`, path, path, path, filepath.Join(cfg.LogDir, "serve.log")),
	}, nil
}

// systemd

func systemdUnitName(namespace string) string {
	return "kvstore-" + namespace + ".service"
}

func systemdUnitPath(cfg ServiceConfig) string {
	return filepath.Join(cfg.home(), ".config", "systemd", "user", systemdUnitName(cfg.Namespace))
}

// GenerateSystemdUnit renders the systemd user unit for cfg.
func GenerateSystemdUnit(cfg ServiceConfig) string {
	return `[Unit]
Description=kvstore gateway (namespace ` + cfg.Namespace + `)
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=` + strings.Join(cfg.args(), " ") + `
Restart=on-failure
RestartSec=5
StandardOutput=append:` + filepath.Join(cfg.LogDir, "serve.log") + `
StandardError=append:` + filepath.Join(cfg.LogDir, "serve.err") + `

[Install]
WantedBy=default.target
`
}

func installSystemd(cfg ServiceConfig) (*InstallResult, error) {
	path := systemdUnitPath(cfg)
	if err := writeServiceFile(path, cfg.LogDir, GenerateSystemdUnit(cfg)); err != nil {
		return nil, err
	}
	unit := systemdUnitName(cfg.Namespace)
	return &InstallResult{
		ServiceFile: path,
		Platform:    "systemd",
		Instructions: fmt.Sprintf(`Service installed: %s

  Enable:  systemctl --user daemon-reload && systemctl --user enable --now %s
  Status:  systemctl --user status %s
  Logs:    journalctl --user -u %s -f`, path, unit, unit, unit),
	}, nil
}
