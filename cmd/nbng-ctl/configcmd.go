package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nbng/pkg/transport"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List supported socket protocols",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROTOCOL\tRECEIVES")
		for _, p := range transport.Protocols() {
			fmt.Fprintf(w, "%s\t%t\n", p, p.CanReceive())
		}
		return w.Flush()
	},
}
