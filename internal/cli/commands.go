package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/replay"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

func newReplayCmd(flags *gameFlags) *cobra.Command {
	var (
		steps  bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Fold a recorded transcript and print the resulting game state",
		Long: `Replay reads a transcript (YAML or JSON, "-" for stdin) and applies it
message by message. The file is either a list of messages or a mapping
with a "messages" key; each message has "text" and "is_local".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown --format %q (want %s or %s)", format, formatText, formatJSON)
			}
			c, err := flags.classifier(cmd)
			if err != nil {
				return err
			}
			msgs, err := readTranscript(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			if !steps {
				v := replay.Final(ctx, c, msgs)
				if format == formatJSON {
					return writeJSON(out, v)
				}
				printView(out, v)
				return nil
			}

			all := replay.Run(ctx, c, msgs)
			if format == formatJSON {
				return writeJSON(out, all)
			}
			for _, s := range all {
				origin := "remote"
				if s.Message.IsLocal {
					origin = "local"
				}
				fmt.Fprintf(out, "#%d [%s] %q\n", s.Index, origin, s.Message.Text)
				if len(s.Rules) > 0 {
					fmt.Fprintf(out, "    rules: %s\n", strings.Join(s.Rules, ", "))
				}
				fmt.Fprintf(out, "    %s\n", summary(s.View))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&steps, "steps", false, "print the state after every message")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	return cmd
}

func newClassifyCmd(flags *gameFlags) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "classify TEXT...",
		Short: "Show which rules a single message fires from the default state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.classifier(cmd)
			if err != nil {
				return err
			}
			msg := types.Message{Text: strings.Join(args, " "), IsLocal: local}
			out := cmd.OutOrStdout()

			rules := c.Match(msg)
			if len(rules) == 0 {
				fmt.Fprintln(out, "rules:   (none)")
			} else {
				fmt.Fprintf(out, "rules:   %s\n", strings.Join(rules, ", "))
			}
			fmt.Fprintf(out, "trigger: %t\n", c.IsTrigger(msg.Text))
			printState(out, c.Reduce(c.Default(), msg))
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "treat the message as sent by the contestant")
	return cmd
}

func newRulesCmd(flags *gameFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List classifier rules in evaluation order and the trigger keywords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.classifier(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "rules (evaluation order):")
			for i, r := range gamestate.Rules() {
				fmt.Fprintf(out, "  %d. %s\n", i+1, r.Name)
			}
			fmt.Fprintf(out, "triggers: %s\n", strings.Join(c.Triggers(), ", "))
			fmt.Fprintf(out, "notes: %s\n", strings.Join(gamestate.CannedNotes(), "; "))
			return nil
		},
	}
}

func readTranscript(cmd *cobra.Command, path string) ([]types.Message, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		r = f
	}
	return replay.Load(r)
}

func summary(v session.View) string {
	s := v.State
	return fmt.Sprintf("round=%d/%d phase=%s mood=%s scenarios=%d active=%t expired=%t",
		s.CurrentRound, s.TotalRounds, s.CurrentPhase, s.HostMood, s.ScenariosCompleted, v.Active, v.Expired)
}

func printView(out io.Writer, v session.View) {
	printState(out, v.State)
	fmt.Fprintf(out, "active:    %t\n", v.Active)
}

func printState(out io.Writer, s gamestate.State) {
	fmt.Fprintf(out, "player:    %s\n", s.PlayerName)
	fmt.Fprintf(out, "round:     %d/%d\n", s.CurrentRound, s.TotalRounds)
	fmt.Fprintf(out, "scenarios: %d\n", s.ScenariosCompleted)
	fmt.Fprintf(out, "phase:     %s\n", s.CurrentPhase)
	fmt.Fprintf(out, "mood:      %s %s\n", s.HostMood, s.HostMood.Emoji())
	if len(s.PerformanceNotes) > 0 {
		fmt.Fprintf(out, "notes:     %s\n", strings.Join(s.PerformanceNotes, "; "))
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
