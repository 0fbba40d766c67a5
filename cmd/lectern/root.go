package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lecternhq/lectern/internal/logging"
	"github.com/lecternhq/lectern/internal/plugin"
	"github.com/lecternhq/lectern/internal/store"
)

// Version information (set via ldflags during build).
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "lectern",
	Short:         "Lectern plugin host",
	Long:          "Manage Lectern extensions: validate, install, enable, disable, and run plugins.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", defaultDataDir(), "base directory for plugin files and the plugin database")
	flags.String("plugins-dir", "", "plugin install directory (default <data-dir>/plugins)")
	flags.String("db", "", "plugin database path (default <data-dir>/plugins.db)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")

	viper.SetEnvPrefix("LECTERN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"data-dir", "plugins-dir", "db", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	listCmd.Flags().Bool("enabled", false, "list only enabled plugins")

	rootCmd.AddCommand(
		validateCmd,
		installCmd,
		uninstallCmd,
		enableCmd,
		disableCmd,
		listCmd,
		errorsCmd,
		runCmd,
	)
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lectern")
	}
	return ".lectern"
}

func pluginsDir() string {
	if dir := viper.GetString("plugins-dir"); dir != "" {
		return dir
	}
	return filepath.Join(viper.GetString("data-dir"), "plugins")
}

func dbPath() string {
	if path := viper.GetString("db"); path != "" {
		return path
	}
	return filepath.Join(viper.GetString("data-dir"), "plugins.db")
}

// openManager wires the store and lifecycle manager from configuration.
// The returned closer releases the database handle.
func openManager() (*plugin.Manager, zerolog.Logger, func(), error) {
	logger := logging.New(logging.Config{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
	}, os.Stderr)

	st, err := store.Open(dbPath())
	if err != nil {
		return nil, logger, nil, fmt.Errorf("failed to open plugin database: %w", err)
	}

	mgr, err := plugin.NewManager(st, pluginsDir(), plugin.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, logger, nil, err
	}
	return mgr, logger, func() { st.Close() }, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate <package>",
	Short: "Validate a plugin package without installing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := plugin.Validate(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install <package>",
	Short: "Install a plugin package (directory or .zip)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		record, err := mgr.Install(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s\n", record.ID, record.Version)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Remove an installed plugin and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := mgr.Uninstall(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()
		defer mgr.UnloadAllPlugins()

		if err := mgr.Enable(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enabled %s\n", args[0])
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an enabled plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := mgr.Disable(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enabledOnly, _ := cmd.Flags().GetBool("enabled")

		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		var records []*plugin.Record
		if enabledOnly {
			records, err = mgr.EnabledPlugins(cmd.Context())
		} else {
			records, err = mgr.InstalledPlugins(cmd.Context())
		}
		if err != nil {
			return err
		}

		for _, r := range records {
			state := "disabled"
			if r.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.ID, r.Version, state, r.Name)
		}
		return nil
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors <id>",
	Short: "Show a plugin's last recorded error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		if _, ok, err := mgr.Plugin(cmd.Context(), args[0]); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", plugin.ErrNotFound, args[0])
		}

		if msg := mgr.PluginError(args[0]); msg != "" {
			fmt.Fprintln(cmd.OutOrStdout(), msg)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded errors")
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the host: auto-load enabled plugins and dispatch events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mgr, logger, closeStore, err := openManager()
		if err != nil {
			return err
		}
		defer closeStore()

		results, err := mgr.LoadEnabledPlugins(ctx)
		if err != nil {
			return err
		}
		reportAutoLoad(cmd, results)

		mgr.DispatchEvent("host.ready", map[string]any{"version": version})
		logger.Info().Int("plugins", len(results)).Msg("host ready")

		<-ctx.Done()

		mgr.DispatchEvent("host.shutdown", nil)
		mgr.UnloadAllPlugins()
		logger.Info().Msg("host stopped")
		return nil
	},
}

// reportAutoLoad prints per-plugin auto-load outcomes in a stable order.
func reportAutoLoad(cmd *cobra.Command, results map[string]error) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := results[id]; err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "plugin %s failed to load (disabled): %v\n", id, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "plugin %s loaded\n", id)
	}
}
