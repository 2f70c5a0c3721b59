// Package main is the deepresearch command line client. It runs research
// in-process with the same adapters as the API server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deepresearch/backend/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "Iterative web research with cited reports",
	Long: `deepresearch plans sub-questions for a research question, searches the web
over several iterations, reads the most promising pages and writes a cited
report.

Configuration comes from the environment (.env is loaded), an optional
deepresearch.yaml and DEEPRESEARCH_* variables, with flags taking precedence.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./deepresearch.yaml or ~/.config/deepresearch/deepresearch.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database URL for stored runs, e.g. file:deepresearch.db")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("deepresearch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "deepresearch"))
		}
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	config.LoadDotEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
