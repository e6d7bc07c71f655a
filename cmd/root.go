package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMsg/cmd/perf"
	"github.com/ValentinKolb/dMsg/cmd/send"
	"github.com/ValentinKolb/dMsg/cmd/serve"
	"github.com/ValentinKolb/dMsg/cmd/spool"
	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmsg",
		Short: "at-least-once message delivery",
		Long: fmt.Sprintf(`dMsg (v%s)

Delivers small binary messages from producers to a server with
at-least-once semantics. Undelivered messages are buffered in memory,
spooled to disk on shutdown and deduplicated by the server.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMsg",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMsg v%s\n", Version)
		},
	}
)

func init() {
	// read .env files and DMSG_* variables
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(spool.SpoolCommands)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer for object payloads (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// initLogging binds the flags of the executed command and sets the log level
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
