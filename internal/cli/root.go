package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	tcpAddr       string
	udpAddr       string
	questionsPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "quiznet",
		Short: "Multiplayer trivia coordinator over TCP and UDP",
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&tcpAddr, "tcp-addr", os.Getenv("QUIZ_TCP_ADDR"), "TCP listen address (overrides config)")
	cmd.PersistentFlags().StringVar(&udpAddr, "udp-addr", os.Getenv("QUIZ_UDP_ADDR"), "UDP listen address (overrides config)")
	cmd.PersistentFlags().StringVar(&questionsPath, "questions", os.Getenv("QUIZ_QUESTIONS"), "question file path (overrides config)")
	cmd.AddCommand(NewServeCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}
