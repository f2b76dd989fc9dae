package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrySealed indicates a write to a registry after discovery finished.
	ErrRegistrySealed = errors.New("plugin: registry sealed")
	// ErrDuplicatePlugin indicates a name collision under strict naming.
	ErrDuplicatePlugin = errors.New("plugin: duplicate plugin name")
	// ErrPluginTimeout indicates that a plugin exceeded its execution budget.
	ErrPluginTimeout = errors.New("plugin: execution timed out")
	// ErrInvalidPackage indicates a dependency identifier rejected before install.
	ErrInvalidPackage = errors.New("plugin: invalid package identifier")
	// ErrUnsupportedRuntime indicates a runtime without an adapter or package manager.
	ErrUnsupportedRuntime = errors.New("plugin: unsupported runtime")
)

// DiscoveryError reports an unreadable plugin root.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover plugins in %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// InstallError reports a failed dependency install for one plugin.
type InstallError struct {
	Plugin   string
	Runtime  Runtime
	Packages []string
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %v for plugin %s (%s): %v", e.Packages, e.Plugin, e.Runtime, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// PluginError reports a failure while executing a plugin.
type PluginError struct {
	Plugin string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }
