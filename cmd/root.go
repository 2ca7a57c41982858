package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomhq/loomgate/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/loomhq/loomgate/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "loomgate",
	Short: "loomgate — agentic LLM gateway",
	Long:  "loomgate: a long-running gateway that routes conversational input from CLI, channels, schedules, and remote nodes to LLM providers, supervises tool calls, and streams results back to subscribers.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $SA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runCmd() *cobra.Command {
	var (
		agentName  string
		sessionKey string
	)
	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Send a single message to an agent and print the reply",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAgentChat(agentName, args[0], sessionKey)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "default", "agent id")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: auto-generated)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loomgate %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("SA_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
