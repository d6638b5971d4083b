package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
	"github.com/spf13/viper"

	"github.com/cronshield/cronshield/internal/wrap"
)

// version is stamped via -ldflags at release time.
var version = "0.3.0"

var (
	cfgFile      string
	stateDir     string
	suppressN    int
	overlap      bool
	debugMode    bool
	genMan       bool
	outputFormat string
)

// exitCode is the process exit status decided by the wrapped run. Cobra's
// error path only covers setup failures; child exit codes and the busy
// status are threaded through here.
var exitCode int

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cronshield [flags] -- <command> [args...]",
	Short: "Run a cron job with overlap protection and failure suppression",
	Long: `cronshield wraps a scheduled command to add what cron itself does not:
single-instance locking so overlapping runs of the same job never execute
concurrently, and suppression of transient failures so a job only surfaces
its output and exit status after a configured number of consecutive
failures.

Per-job state lives under a root directory (default $HOME/.cronshield/state),
keyed by a fingerprint of the exact command line. Suppressed failures exit 0
and print nothing; that masking below the threshold is the point.

Examples:
  cronshield --overlap -- /usr/local/bin/backup.sh --full
  cronshield --suppress 3 -- curl -fsS https://example.com/healthz
  cronshield jobs`,
	Version:       version,
	Args:          cobra.ArbitraryArgs,
	RunE:          runWrapped,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cronshield: %v\n", err)
		return wrap.ExitSetup
	}
	return exitCode
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cronshield/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "root directory for per-job state (default from config or $HOME/.cronshield/state)")
	rootCmd.Flags().IntVarP(&suppressN, "suppress", "s", 0, "suppress output and exit status until N consecutive failures (0 disables)")
	rootCmd.Flags().BoolVarP(&overlap, "overlap", "o", false, "refuse to run while a previous instance of the same command is still running")
	rootCmd.Flags().BoolVarP(&debugMode, "debug", "d", false, "verbose tracing to stderr")
	rootCmd.Flags().BoolVar(&genMan, "man", false, "write a man page to stdout and exit")

	// The first non-flag token starts the wrapped command; everything after
	// it belongs to that command, flags included.
	rootCmd.Flags().SetInterspersed(false)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cronshield: cannot determine home directory: %v\n", err)
			os.Exit(wrap.ExitSetup)
		}
		viper.AddConfigPath(filepath.Join(home, ".cronshield"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRONSHIELD")
	viper.AutomaticEnv()
	viper.BindEnv("state_dir")

	if err := viper.ReadInConfig(); err == nil {
		if !rootCmd.Flags().Changed("suppress") && viper.IsSet("suppress") {
			suppressN = viper.GetInt("suppress")
		}
		if !rootCmd.Flags().Changed("debug") && viper.IsSet("debug") {
			debugMode = viper.GetBool("debug")
		}
	}
}

// resolveStateDir applies flag > config/env > default precedence.
func resolveStateDir() (string, error) {
	if stateDir != "" {
		return stateDir, nil
	}
	if v := viper.GetString("state_dir"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".cronshield", "state"), nil
}

func runWrapped(cmd *cobra.Command, args []string) error {
	if genMan {
		return writeMan(cmd)
	}
	if len(args) == 0 {
		return fmt.Errorf("no command given; see --help")
	}

	dir, err := resolveStateDir()
	if err != nil {
		return err
	}

	out, err := wrap.Run(wrap.Options{
		StateDir: dir,
		Suppress: suppressN,
		Overlap:  overlap,
		Debug:    debugMode,
	}, args)
	if err != nil {
		return err
	}

	if out.Message != "" {
		fmt.Fprintln(os.Stderr, out.Message)
	}
	if len(out.Output) > 0 {
		os.Stdout.Write(out.Output)
	}
	exitCode = out.ExitCode
	return nil
}

func writeMan(cmd *cobra.Command) error {
	header := &doc.GenManHeader{
		Title:   "CRONSHIELD",
		Section: "1",
		Source:  "cronshield " + version,
		Manual:  "User Commands",
	}
	return doc.GenMan(cmd.Root(), header, os.Stdout)
}
