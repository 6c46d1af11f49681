package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/deck-session/internal/ui"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "deck-session",
	Short: "Load slide decks and PDFs into a single document session",
	Long: `deck-session keeps exactly one parsed document open at a time. PDFs are
parsed directly; PowerPoint and other office files are converted to PDF through
a Gotenberg service first.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfgFile = os.Getenv("CONFIG_PATH")
		}
		ui.Init(noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
