package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// entryRule maps an entry file name to the runtime that executes it.
type entryRule struct {
	file string
	kind RuntimeKind
	lang Language
}

// entryRules is ordered by priority: the first entry present in a directory wins.
var entryRules = []entryRule{
	{file: "main.so", kind: NativeCallable, lang: LangGo},
	{file: "main.lua", kind: EmbeddedScript, lang: LangLua},
	{file: "main.py", kind: ExternalProcess, lang: LangPython},
	{file: "main.js", kind: ExternalProcess, lang: LangJavaScript},
	{file: "main.pl", kind: ExternalProcess, lang: LangPerl},
	{file: "main.sh", kind: ExternalProcess, lang: LangShell},
}

// EntryFiles lists the recognized entry file names in priority order.
func EntryFiles() []string {
	files := make([]string, 0, len(entryRules))
	for _, r := range entryRules {
		files = append(files, r.file)
	}
	return files
}

// skipDirs are never searched for plugins; package managers populate them.
var skipDirs = map[string]bool{
	"node_modules": true,
	"lua_modules":  true,
	"__pycache__":  true,
}

// Loader discovers plugins in a directory tree.
type Loader struct {
	installer  Installer
	builtins   []*Descriptor
	strict     bool
	openNative func(path string) (NativeFunc, error)
	logger     *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// NewLoader creates a loader. Without WithInstaller dependencies are not installed.
func NewLoader(options ...LoaderOption) *Loader {
	l := &Loader{
		installer:  NopInstaller{},
		openNative: OpenGoPlugin,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// WithInstaller sets the dependency installer.
func WithInstaller(installer Installer) LoaderOption {
	return func(l *Loader) {
		if installer != nil {
			l.installer = installer
		}
	}
}

// WithBuiltins registers in-process plugins after discovery. Discovered plugins
// with the same name take precedence.
func WithBuiltins(builtins ...*Descriptor) LoaderOption {
	return func(l *Loader) {
		l.builtins = append(l.builtins, builtins...)
	}
}

// WithStrictNames rejects a plugin whose name was already discovered instead of
// letting it replace the earlier one.
func WithStrictNames(strict bool) LoaderOption {
	return func(l *Loader) {
		l.strict = strict
	}
}

// WithNativeOpener replaces the loader used for main.so entries.
func WithNativeOpener(open func(path string) (NativeFunc, error)) LoaderOption {
	return func(l *Loader) {
		if open != nil {
			l.openNative = open
		}
	}
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Discover walks root and returns a sealed registry of every valid plugin.
// Only an unreadable root is an error; broken plugins are logged and skipped.
func (l *Loader) Discover(ctx context.Context, root string) (*Registry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Root: root, Err: errors.New("not a directory")}
	}
	if _, err := os.ReadDir(root); err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}

	reg := NewRegistry()

	err = filepath.WalkDir(root, func(path string, de fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			l.logger.Warn("skipping unreadable plugin path", "path", path, "error", walkErr)
			return nil
		}
		if !de.IsDir() || path == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := de.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			return fs.SkipDir
		}

		if l.loadDir(ctx, reg, path) {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}

	for _, d := range l.builtins {
		if reg.Has(d.Name) {
			l.logger.Info("plugin overrides builtin", "plugin", d.Name)
			continue
		}
		if _, err := reg.Add(d); err != nil {
			return nil, fmt.Errorf("register builtin %s: %w", d.Name, err)
		}
	}

	reg.Seal()
	l.logger.Info("plugins discovered", "root", root, "count", reg.Len(), "plugins", reg.Names())

	return reg, nil
}

// loadDir registers the plugin in dir, if any. It reports whether dir holds an
// entry file, in which case its subtree belongs to the plugin and is not searched.
func (l *Loader) loadDir(ctx context.Context, reg *Registry, dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Warn("skipping unreadable plugin directory", "dir", dir, "error", err)
		return false
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			present[e.Name()] = true
		}
	}

	var rule *entryRule
	for i := range entryRules {
		if !present[entryRules[i].file] {
			continue
		}
		if rule == nil {
			rule = &entryRules[i]
			continue
		}
		l.logger.Warn("ignoring extra entry file", "dir", dir, "file", entryRules[i].file, "using", rule.file)
	}
	if rule == nil {
		l.logger.Debug("no plugin entry", "dir", dir)
		return false
	}

	name := filepath.Base(dir)
	logger := l.logger.With("plugin", name)

	if reg.Has(name) {
		if l.strict {
			logger.Error("plugin rejected", "dir", dir, "error", ErrDuplicatePlugin)
			return true
		}
		logger.Warn("plugin name already registered; the later discovery replaces the earlier one", "dir", dir)
	}

	md, found, err := ReadInfo(filepath.Join(dir, InfoFile))
	if err != nil {
		logger.Warn("unreadable plugin info", "error", err)
	}
	if found {
		logger.Info("plugin info", "author", md.Author, "description", md.Description, "dependencies", md.Dependencies)
	}

	rt := Runtime{Kind: rule.kind, Lang: rule.lang}
	if len(md.Dependencies) > 0 {
		if err := l.installer.Install(ctx, rt, dir, md.Dependencies); err != nil {
			ierr := &InstallError{Plugin: name, Runtime: rt, Packages: md.Dependencies, Err: err}
			logger.Error("dependency install failed", "error", ierr)
		}
	}

	entry := filepath.Join(dir, rule.file)
	handle, err := l.prepare(*rule, name, entry)
	if err != nil {
		logger.Warn("skipping invalid plugin", "entry", entry, "error", err)
		return true
	}

	d := &Descriptor{
		Name:     name,
		Kind:     rule.kind,
		Lang:     rule.lang,
		Dir:      dir,
		Entry:    entry,
		Metadata: md,
		handle:   handle,
	}
	if _, err := reg.Add(d); err != nil {
		logger.Error("plugin not registered", "error", err)
		return true
	}

	logger.Debug("plugin registered", "runtime", rt, "entry", entry)
	return true
}

// prepare builds the execution handle for one entry file.
func (l *Loader) prepare(rule entryRule, name, entry string) (any, error) {
	switch rule.kind {
	case NativeCallable:
		return l.openNative(entry)
	case EmbeddedScript:
		src, err := os.ReadFile(entry)
		if err != nil {
			return nil, err
		}
		return compileLua(name, string(src))
	case ExternalProcess:
		f, err := os.Open(entry)
		if err != nil {
			return nil, err
		}
		f.Close()
		return entry, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, rule.kind)
	}
}
