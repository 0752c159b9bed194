// Command utitan trains and evaluates unrolled TITAN-IVA-G networks on
// synthetic problems.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "utitan",
	Short: "Unrolled TITAN-IVA-G",
	Long: `utitan trains an unrolled TITAN-IVA-G network layer by layer on
synthetic joint blind source separation problems, evaluates it by joint ISI,
and renders its layers as a graphviz digraph.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(trainCmd, evalCmd, dotCmd)
}
