package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "jsbundle [files...]",
	Short: "Caching CommonJS bundler",
	Long: `Bundle CommonJS modules into a single browser script with a sibling source map.
Results are cached by the content of every input, so unchanged builds are instant.`,
	RunE:          runBuild,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:         cobra.ArbitraryArgs,
}

// Execute runs the CLI and exits with the code matching the failure kind
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(codes.ExitCode(err))
	}
}

// reportError prints err with a description of its failure kind
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	if kind := codes.KindOf(err); kind != "" {
		fmt.Fprintf(w, "  %s\n", codes.GetDescription(kind))
	}
}

func init() {
	rootCmd.Version = version.String()
	addBuildFlags(rootCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
}
