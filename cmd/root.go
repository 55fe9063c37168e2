package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tobgro/streamstore/cmd/bench"
	"github.com/tobgro/streamstore/cmd/snapshot"
	"github.com/tobgro/streamstore/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "streamstore",
		Short: "windowed state store with a shared write-back cache",
		Long: fmt.Sprintf(`streamstore (v%s)

A windowed key-value state store library written in Go, placing a
bounded write-back cache in front of a time-segmented persistent store.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of streamstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("streamstore v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(snapshot.SnapshotCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "cache-size"
	RootCmd.PersistentFlags().Int(key, 10*1024, util.WrapString("Shared cache capacity in KB"))
	key = "segment-interval"
	RootCmd.PersistentFlags().Int64(key, 60_000, util.WrapString("Width of one time segment in ms"))
	key = "segments"
	RootCmd.PersistentFlags().Int(key, 0, util.WrapString("How many newest segments to retain (0 = unlimited)"))
	key = "window-size"
	RootCmd.PersistentFlags().Int64(key, 10_000, util.WrapString("Window size in ms reported to flush listeners"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	util.InitConfig()

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
