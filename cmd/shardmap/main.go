package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	// Build information variables
	Version   = "dev"     // Default version for development
	GitCommit = "unknown" // Git commit hash
	BuildTime = "unknown" // Build timestamp
)

// printVersionInfo displays detailed version information
func printVersionInfo() {
	fmt.Printf("shardmap v%s (build %s)\n", version, Version)
	fmt.Printf("Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shardmap",
	Short: "Horizontal partitioning directory service",
	Long: "shardmap maintains the metadata catalog and key directory of horizontally partitioned " +
		"databases: which nodes exist, which node owns each partition key, and how load is balanced across them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Lookup("version") != nil && cmd.Flags().Lookup("version").Changed {
			printVersionInfo()
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().Bool("version", false, "Show version information and exit")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersionInfo()
	},
}

func main() {
	Execute()
}
