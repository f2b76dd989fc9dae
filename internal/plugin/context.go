package plugin

import (
	"encoding/json"
	"strings"
	"sync"
)

// Assistant is the name reported to plugins in their context snapshot.
const Assistant = "murmur"

// Context is the capability handed to a plugin for one command.
// Plugins may only speak through it.
type Context struct {
	Plugin      string
	Command     string
	UtteranceID string

	mu     sync.Mutex
	spoken []string
	final  bool
}

// NewContext creates the capability for one invocation of plugin.
func NewContext(plugin, command, utteranceID string) *Context {
	return &Context{
		Plugin:      plugin,
		Command:     command,
		UtteranceID: utteranceID,
	}
}

// Speak queues text to be spoken once the plugin returns.
func (c *Context) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	c.spoken = append(c.spoken, text)
	c.mu.Unlock()
}

// Finish asks the assistant to stop after speaking the response.
// Only in-process plugins can reach it.
func (c *Context) Finish() {
	c.mu.Lock()
	c.final = true
	c.mu.Unlock()
}

// Spoken returns the text queued through Speak so far.
func (c *Context) Spoken() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.spoken...)
}

func (c *Context) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final
}

// Snapshot is the serialized context passed to external processes.
type Snapshot struct {
	Plugin      string `json:"plugin"`
	Command     string `json:"command"`
	UtteranceID string `json:"utterance_id"`
	Assistant   string `json:"assistant"`
}

// Snapshot copies the immutable part of c.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Plugin:      c.Plugin,
		Command:     c.Command,
		UtteranceID: c.UtteranceID,
		Assistant:   Assistant,
	}
}

// MarshalSnapshot encodes the snapshot of c as JSON.
func (c *Context) MarshalSnapshot() (string, error) {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
