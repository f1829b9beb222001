package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dGrid/cmd/demo"
	"github.com/ValentinKolb/dGrid/cmd/perf"
	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dgrid",
		Short: "distributed storage grid",
		Long: fmt.Sprintf(`dGrid (v%s)

A distributed, in-process storage grid library written in Go: peer
nodes expose coherent key-value stores over a shared message bus,
with separated, replicated and federated distribution strategies and
a raft coordination plane.`, Version),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetLevel(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dGrid",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dGrid v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(demo.DemoCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level (debug, info, warn, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))

	util.SetupGridFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
