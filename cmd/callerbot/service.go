package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const serviceName = "callerbot"

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd user service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "unit",
		Short: "Print the systemd unit file",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), renderUnit(execPath, resolveConfigPath()))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install callerbot as a systemd user service",
		Long:  "Writes a unit file that runs 'callerbot run'. BOT_TOKEN and IID are read from ~/.callerbot/env.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtime.GOOS != "linux" {
				return fmt.Errorf("unsupported OS: %s (systemd only)", runtime.GOOS)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			unitPath, err := installUnit(unitDir(), execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service installed: %s\n", unitPath)
			fmt.Fprintf(out, "To start:  systemctl --user start %s\n", serviceName)
			fmt.Fprintf(out, "To enable: systemctl --user enable %s\n", serviceName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitPath := filepath.Join(unitDir(), serviceName+".service")
			if err := os.Remove(unitPath); err != nil {
				return fmt.Errorf("remove unit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", unitPath)
			return nil
		},
	})

	return cmd
}

func unitDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user")
}

func installUnit(dir, execPath, cfgPath string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	unitPath := filepath.Join(dir, serviceName+".service")
	if err := os.WriteFile(unitPath, []byte(renderUnit(execPath, cfgPath)), 0o644); err != nil {
		return "", err
	}
	return unitPath, nil
}

func renderUnit(execPath, cfgPath string) string {
	unit := strings.ReplaceAll(systemdTemplate, "{{EXEC}}", execPath)
	unit = strings.ReplaceAll(unit, "{{CONFIG}}", cfgPath)
	unit = strings.ReplaceAll(unit, "{{ENVFILE}}", filepath.Join(filepath.Dir(cfgPath), "env"))
	return unit
}

const systemdTemplate = `[Unit]
Description=callerbot Telegram caller ID bot
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{ENVFILE}}
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
