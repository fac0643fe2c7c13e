// Package main provides the hogwild CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "hogwild",
	Short: "asynchronous sharded parameter-aggregation engine",
	Long: fmt.Sprintf(`hogwild (v%s)

An asynchronous, sharded parameter-aggregation engine for stochastic
gradient descent across concurrent device workers, with staleness-bounded
versioning, error-feedback gradient compression, micro-batch accumulation
and moving-average parameter tracking.

Configuration can be set via command line flags or environment variables.
The format of the environment variables is HOGWILD_<flag>
(e.g. HOGWILD_DROP_RATE=0.99).`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hogwild",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hogwild v%s\n", version)
	},
}

func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("hogwild")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func main() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(benchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
