package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/nhle/mensabot/internal/model"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mensabot",
		Short:         "Cafeteria menu alerts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", model.DefaultConfigPath(), "path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newRefetchCmd(),
		newRecheckCmd(),
		newStatsCmd(),
		newLookupCmd(),
		newUsersCmd(),
		newSecretCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
