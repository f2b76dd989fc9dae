package plugin

import "context"

// ExitReply is spoken by the stop plugins before the assistant shuts down.
const ExitReply = "Okay, exiting"

// Builtins returns the in-process plugins shipped with the assistant. They
// stop the daemon, so they answer only to an utterance that is exactly their name.
func Builtins() []*Descriptor {
	stop := func(_ context.Context, pc *Context, _ string) (string, error) {
		pc.Finish()
		return ExitReply, nil
	}

	var out []*Descriptor
	for _, word := range []string{"stop", "exit", "quit"} {
		d := NewNative(word, stop)
		d.Metadata = Metadata{Author: Assistant, Description: "Stops the assistant"}
		d.Match = MatchUtterance
		out = append(out, d)
	}
	return out
}
