package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Admission gateway for LLM providers: rate limit, cache, priority queue",
		Version: version,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("GATEWAY_CONFIG"), "path to YAML config (optional; env vars override)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configFromFlags carrega a config apontada por --config (ou só env).
func configFromFlags(cmd *cobra.Command) (config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path)
}
