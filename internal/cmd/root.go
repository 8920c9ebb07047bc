package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "entitylimit",
	Short: "Per-entity fixed-window rate limiter",
	Long: `entitylimit tracks independent allowances for users, API keys or IPs and
decides, per operation, whether the entity is still within its limit.

Use the subcommands to run the HTTP service or the demo scenario.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("entitylimit %s (commit %s, built %s)\n", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// newViper returns a viper instance with the serve flags bound.
func newViper(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	bind := func(key, flag string) {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	bind("server.addr", "addr")
	bind("limiter.shards", "shards")
	bind("policy.source", "policy-source")
	bind("policy.file", "policy-file")
	if verbose {
		v.Set("log.level", "debug")
	}
	return v
}
