// Package cli implements the castellan command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaygate/castellan/internal/agentruntime"
	"github.com/relaygate/castellan/internal/config"
	"github.com/relaygate/castellan/internal/core"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// Command group IDs.
const (
	groupCore       = "core"
	groupGates      = "gates"
	groupInspection = "inspect"
	groupAdvanced   = "advanced"
)

var rootCmd = &cobra.Command{
	Use:   "castellan",
	Short: "Gate-driven orchestrator for multi-agent product delivery",
	Long: `castellan drives a project through its fixed G1..G9 approval gates,
enforcing that every gate's required agent actually ran before the gate can
be approved, and recording every decision as an append-only event.

Quick start:
  castellan init "My Project" --owner alice    Onboard a new project
  castellan status PROJECT_ID                  Show the current gate
  castellan approve PROJECT_ID G2 --actor alice --response approved
  castellan serve                              Start the tool-catalog server`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .castellan/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print only the JSON result (no terminal banner)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupGates, Title: "Gate Control:"},
		&cobra.Group{ID: groupInspection, Title: "Inspection:"},
		&cobra.Group{ID: groupAdvanced, Title: "Advanced:"},
	)

	addCmd(newInitCmd(), groupCore)
	addCmd(newStatusCmd(), groupCore)

	addCmd(newApproveCmd(), groupGates)
	addCmd(newRejectCmd(), groupGates)
	addCmd(newSpawnCmd(), groupGates)

	addCmd(newProofCmd(), groupInspection)
	addCmd(newCostCmd(), groupInspection)

	addCmd(newServeCmd(), groupAdvanced)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".castellan")
		viper.AddConfigPath("$HOME/.castellan")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CASTELLAN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// configPath resolves the config file path a command should load,
// preferring the file viper actually found.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return ".castellan/config.yaml"
}

// openCore loads config and opens a Core backed by a Stub agent runtime;
// castellan treats the real agent runtime as an external collaborator
// wired in by the embedding process, not the CLI.
func openCore() (*core.Core, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if !verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return core.Open(cfg, &agentruntime.Stub{}, logger)
}
