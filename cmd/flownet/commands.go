package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flownet",
	Short: "FlowNet control system runtime",
	Long: `FlowNet wires application modules, device backends and the control
system into variable networks and runs them as a dataflow application.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("FlowNet v1.0.0")
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo control loop application",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(configPath)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
