// Package cli provides configuration management commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nasdesk/nasdesk/internal/config"
	"github.com/nasdesk/nasdesk/internal/session"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage nasdesk configuration",
		Long: `Configuration management commands for nasdesk.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  set   - Change one setting
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for nasdesk.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := runConfigWizard(newTermPrompter(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := config.SaveConfig(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Test it with: nasdesk login")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// runConfigWizard asks for the settings most installs change. Empty answers keep defaults.
func runConfigWizard(p prompter, out io.Writer) (*config.Config, error) {
	cfg := config.NewConfig()

	fmt.Fprintln(out, "nasdesk Configuration Setup")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintln(out)

	ask := func(label, def string) (string, error) {
		if def != "" {
			label = fmt.Sprintf("%s [%s]", label, def)
		}
		v, err := p.Line(label)
		if err != nil {
			return "", err
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return def, nil
		}
		return v, nil
	}

	url, err := ask("Default NAS address (optional)", "")
	if err != nil {
		return nil, err
	}
	if url != "" {
		if cfg.NASURL, err = session.NormalizeURL(url); err != nil {
			return nil, err
		}
	}
	if cfg.Username, err = ask("Default username (optional)", ""); err != nil {
		return nil, err
	}

	insecure, err := ask("Accept self-signed HTTPS certificates? (y/n)", "n")
	if err != nil {
		return nil, err
	}
	cfg.InsecureSkipVerify = strings.HasPrefix(strings.ToLower(insecure), "y")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
	mode, err := ask("Proxy mode", config.ProxyModeNone)
	if err != nil {
		return nil, err
	}
	cfg.ProxyMode = mode
	if mode == config.ProxyModeBasic || mode == config.ProxyModeNTLM {
		host, err := ask("Proxy host", "")
		if err != nil {
			return nil, err
		}
		cfg.ProxyHost = host
		port, err := ask("Proxy port", "8080")
		if err != nil {
			return nil, err
		}
		if cfg.ProxyPort, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid proxy port %q", port)
		}
		if cfg.ProxyUser, err = ask("Proxy user", ""); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

Values come from the configuration file overridden by NASDESK_URL,
NASDESK_USER and NASDESK_PROXY_MODE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			showConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
}

func showConfig(w io.Writer, cfg *config.Config, path string) {
	orNone := func(s string) string {
		if s == "" {
			return "<not set>"
		}
		return s
	}

	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Connection:")
	fmt.Fprintf(w, "  NAS URL:          %s\n", orNone(cfg.NASURL))
	fmt.Fprintf(w, "  Username:         %s\n", orNone(cfg.Username))
	fmt.Fprintf(w, "  Skip TLS verify:  %t\n", cfg.InsecureSkipVerify)
	fmt.Fprintf(w, "  Request timeout:  %s\n", cfg.RequestTimeout)
	fmt.Fprintf(w, "  Max retries:      %d\n", cfg.MaxRetries)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	if cfg.ProxyUser != "" {
		fmt.Fprintf(w, "  Proxy User: %s\n", cfg.ProxyUser)
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(w, "  No Proxy:   %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Thumbnails:")
	fmt.Fprintf(w, "  Cache size: %d\n", cfg.ThumbnailCacheSize)
	fmt.Fprintf(w, "  Cache TTL:  %s\n", cfg.ThumbnailTTL)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Profiles file: %s\n", cfg.ResolvedProfilesPath())
	if cfg.LogFile != "" {
		fmt.Fprintf(w, "Log file:      %s\n", cfg.LogFile)
	}
	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Change one setting",
		Example: `  nasdesk config set connection.nas_url 192.168.1.10:5000
  nasdesk config set proxy.mode system
  nasdesk config set thumbnails.cache_size 1024`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			return setConfigValue(cmd.OutOrStdout(), path, args[0], args[1])
		},
	}
}

func setConfigValue(w io.Writer, path, key, value string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if key == "connection.nas_url" && value != "" {
		if value, err = session.NormalizeURL(value); err != nil {
			return err
		}
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(w, "✓ %s = %s\n", key, value)
	return nil
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(w, "Default configuration path:")
			} else {
				fmt.Fprintln(w, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(w, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(w, "Status: ✓ File exists")
				fmt.Fprintf(w, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(w, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(w, "Status: File does not exist")
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Create a configuration file with: nasdesk config init")
			}
			return nil
		},
	}
}
