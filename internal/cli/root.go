// Package cli defines the Cobra commands of the improvctl tool.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/improvbattle/internal/config"
	"github.com/MrWong99/improvbattle/internal/gamestate"
)

// Version is reported by --version; set via ldflags at build time.
var Version = "dev"

// gameFlags are shared by every command that builds a classifier.
type gameFlags struct {
	configPath  string
	totalRounds int
	hostName    string
}

// classifier builds a classifier from the optional config file, then
// applies explicit flag overrides.
func (f *gameFlags) classifier(cmd *cobra.Command) (*gamestate.Classifier, error) {
	game := config.Default().Game
	if f.configPath != "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		game = cfg.Game
	}
	if cmd.Flags().Changed("rounds") {
		if f.totalRounds < 1 {
			return nil, fmt.Errorf("--rounds must be at least 1, got %d", f.totalRounds)
		}
		game.TotalRounds = f.totalRounds
	}
	if cmd.Flags().Changed("host") {
		game.HostName = f.hostName
	}
	return gamestate.New(
		gamestate.WithTotalRounds(game.TotalRounds),
		gamestate.WithHostName(game.HostName),
	), nil
}

// NewRootCmd returns the improvctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	flags := &gameFlags{}

	root := &cobra.Command{
		Use:   "improvctl",
		Short: "Inspect Improv Battle game-state classification offline",
		Long: `improvctl replays recorded transcripts through the same classifier
and session logic the server uses, and explains which rules a message fires.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "server config file to read game settings from")
	pf.IntVar(&flags.totalRounds, "rounds", config.DefaultTotalRounds, "total rounds per game")
	pf.StringVar(&flags.hostName, "host", config.DefaultHostName, "host name trigger keyword")

	root.AddCommand(newReplayCmd(flags))
	root.AddCommand(newClassifyCmd(flags))
	root.AddCommand(newRulesCmd(flags))
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "improvctl:", err)
		os.Exit(1)
	}
}
