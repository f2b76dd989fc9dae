package plugin

import (
	"fmt"
)

// RuntimeKind selects the adapter used to execute a plugin.
type RuntimeKind int

const (
	NativeCallable RuntimeKind = iota + 1
	EmbeddedScript
	ExternalProcess
)

func (k RuntimeKind) String() string {
	switch k {
	case NativeCallable:
		return "native"
	case EmbeddedScript:
		return "script"
	case ExternalProcess:
		return "process"
	default:
		return fmt.Sprintf("RuntimeKind(%d)", int(k))
	}
}

// Language is the source language of a plugin entry file.
type Language string

const (
	LangGo         Language = "go"
	LangLua        Language = "lua"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangPerl       Language = "perl"
	LangShell      Language = "shell"
)

// Runtime identifies how a plugin runs and which package manager serves it.
type Runtime struct {
	Kind RuntimeKind
	Lang Language
}

func (r Runtime) String() string {
	return r.Kind.String() + "/" + string(r.Lang)
}

// Metadata is the optional content of plugin.info.
type Metadata struct {
	Author       string
	Description  string
	Dependencies []string
}

// MatchMode selects how the router compares a plugin name with recognized text.
type MatchMode int

const (
	// MatchSubstring routes when the name occurs anywhere in the text.
	MatchSubstring MatchMode = iota
	// MatchUtterance routes only when the whole utterance is the name,
	// ignoring case and surrounding punctuation.
	MatchUtterance
)

// Descriptor identifies a plugin and how to execute it.
// Descriptors are immutable once registered.
type Descriptor struct {
	Name     string
	Kind     RuntimeKind
	Lang     Language
	Dir      string
	Entry    string
	Metadata Metadata
	Match    MatchMode

	handle any
}

// Runtime returns the kind and language pair of d.
func (d *Descriptor) Runtime() Runtime {
	return Runtime{Kind: d.Kind, Lang: d.Lang}
}

// NewNative builds an in-process plugin descriptor around fn.
func NewNative(name string, fn NativeFunc) *Descriptor {
	return &Descriptor{
		Name:   name,
		Kind:   NativeCallable,
		Lang:   LangGo,
		handle: fn,
	}
}

// Registry holds descriptors in insertion order.
//
// It is written only during discovery. After Seal it is read-only and safe for
// concurrent readers without locking.
type Registry struct {
	order  []*Descriptor
	byName map[string]int
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Add inserts d. A descriptor with the same name is replaced in place and
// replaced is reported true.
func (r *Registry) Add(d *Descriptor) (replaced bool, err error) {
	if d == nil || d.Name == "" {
		return false, fmt.Errorf("add plugin: empty name")
	}
	if r.sealed {
		return false, fmt.Errorf("add plugin %s: %w", d.Name, ErrRegistrySealed)
	}

	if idx, ok := r.byName[d.Name]; ok {
		r.order[idx] = d
		return true, nil
	}

	r.byName[d.Name] = len(r.order)
	r.order = append(r.order, d)

	return false, nil
}

// Has reports whether a plugin called name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.order[idx], true
}

// All returns descriptors in insertion order. The slice is a copy.
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.order...)
}

// Names returns plugin names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, d := range r.order {
		names = append(names, d.Name)
	}
	return names
}

func (r *Registry) Len() int { return len(r.order) }

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

func (r *Registry) Sealed() bool { return r.sealed }
