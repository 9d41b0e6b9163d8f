// Package replay folds a recorded transcript through a session offline, one
// message at a time, so the classifier's behaviour can be inspected without
// running the server.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/improvbattle/internal/gamestate"
	"github.com/MrWong99/improvbattle/internal/session"
	"github.com/MrWong99/improvbattle/pkg/types"
)

// sessionID names the offline session in logs.
const sessionID = "replay"

// Step is the outcome of one transcript message.
type Step struct {
	// Index is the zero-based position of Message in the transcript.
	Index   int           `json:"index"`
	Message types.Message `json:"message"`

	// Rules lists the classifier rules the message fired.
	Rules []string `json:"rules,omitempty"`

	// View is the session view after the message was applied.
	View session.View `json:"view"`
}

// transcriptFile is the mapping form of a transcript file.
type transcriptFile struct {
	Messages []types.Message `yaml:"messages"`
}

// Load decodes a transcript from r. The document may be a bare sequence of
// messages or a mapping with a "messages" key. JSON input is accepted as
// YAML.
func Load(r io.Reader) ([]types.Message, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("replay: decode transcript: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		var msgs []types.Message
		if err := root.Decode(&msgs); err != nil {
			return nil, fmt.Errorf("replay: decode messages: %w", err)
		}
		return msgs, nil
	case yaml.MappingNode:
		var f transcriptFile
		if err := root.Decode(&f); err != nil {
			return nil, fmt.Errorf("replay: decode messages: %w", err)
		}
		return f.Messages, nil
	default:
		return nil, fmt.Errorf("replay: transcript must be a list of messages or a mapping with a messages key (line %d)", root.Line)
	}
}

// Run applies msgs in order to a fresh session using c and returns one
// [Step] per message.
func Run(ctx context.Context, c *gamestate.Classifier, msgs []types.Message) []Step {
	sess := session.New(sessionID, c)
	steps := make([]Step, 0, len(msgs))
	for i, msg := range msgs {
		sess.Observe(ctx, msgs[:i+1])
		steps = append(steps, Step{
			Index:   i,
			Message: msg,
			Rules:   c.Match(msg),
			View:    sess.View(),
		})
	}
	return steps
}

// Final returns the view after all msgs are applied.
func Final(ctx context.Context, c *gamestate.Classifier, msgs []types.Message) session.View {
	sess := session.New(sessionID, c)
	sess.Observe(ctx, msgs)
	return sess.View()
}
