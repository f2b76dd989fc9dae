package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Installer installs the declared dependencies of one plugin.
type Installer interface {
	Install(ctx context.Context, rt Runtime, dir string, packages []string) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, rt Runtime, dir string, packages []string) error

func (f InstallerFunc) Install(ctx context.Context, rt Runtime, dir string, packages []string) error {
	return f(ctx, rt, dir, packages)
}

// NopInstaller skips installation entirely.
type NopInstaller struct{}

func (NopInstaller) Install(_ context.Context, rt Runtime, dir string, packages []string) error {
	slog.Debug("dependency install disabled", "runtime", rt, "dir", dir, "packages", packages)
	return nil
}

const dirPlaceholder = "{dir}"

// packageManager describes how one language installs packages.
type packageManager struct {
	argv []string
	// perPackage runs argv once per package for managers that take a single name.
	perPackage bool
}

func defaultManagers() map[Language]packageManager {
	return map[Language]packageManager{
		LangPython:     {argv: []string{"pip", "install"}},
		LangJavaScript: {argv: []string{"npm", "install", "--prefix", dirPlaceholder}},
		LangPerl:       {argv: []string{"cpanm"}},
		LangLua:        {argv: []string{"luarocks", "install", "--tree", dirPlaceholder + "/lua_modules"}, perPackage: true},
	}
}

// packageRe accepts registry identifiers with version specifiers (requests==2.31,
// @scope/pkg@1.2.0, JSON::XS) and rejects whitespace, shell metacharacters and
// anything that could be read as a flag.
var packageRe = regexp.MustCompile(`^[A-Za-z0-9@_][A-Za-z0-9._+\-/@:=<>!~^]*$`)

// CommandRunner executes argv in dir and returns its combined output.
type CommandRunner func(ctx context.Context, dir string, argv []string) ([]byte, error)

func runCommand(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ExecInstaller installs dependencies with the package manager of each language.
type ExecInstaller struct {
	managers map[Language]packageManager
	allowed  map[string]bool
	timeout  time.Duration
	run      CommandRunner
}

// InstallOption configures an ExecInstaller.
type InstallOption func(*ExecInstaller)

// NewExecInstaller creates an installer using pip, npm, cpanm and luarocks.
func NewExecInstaller(options ...InstallOption) *ExecInstaller {
	in := &ExecInstaller{
		managers: defaultManagers(),
		timeout:  5 * time.Minute,
		run:      runCommand,
	}
	for _, option := range options {
		option(in)
	}
	return in
}

// WithAllowedPackages restricts installs to the given identifiers.
func WithAllowedPackages(packages ...string) InstallOption {
	return func(in *ExecInstaller) {
		if len(packages) == 0 {
			return
		}
		in.allowed = make(map[string]bool, len(packages))
		for _, p := range packages {
			in.allowed[p] = true
		}
	}
}

// WithInstallTimeout bounds one Install call.
func WithInstallTimeout(timeout time.Duration) InstallOption {
	return func(in *ExecInstaller) {
		if timeout > 0 {
			in.timeout = timeout
		}
	}
}

// WithCommandRunner replaces process execution, mainly for tests.
func WithCommandRunner(run CommandRunner) InstallOption {
	return func(in *ExecInstaller) {
		if run != nil {
			in.run = run
		}
	}
}

// ValidatePackage rejects identifiers that are not plain package references.
func ValidatePackage(name string) error {
	if !packageRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, name)
	}
	return nil
}

// Install validates every package, then runs the language's package manager.
func (in *ExecInstaller) Install(ctx context.Context, rt Runtime, dir string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	pm, ok := in.managers[rt.Lang]
	if !ok {
		return fmt.Errorf("%w: no package manager for %s", ErrUnsupportedRuntime, rt.Lang)
	}

	for _, p := range packages {
		if err := ValidatePackage(p); err != nil {
			return err
		}
		if in.allowed != nil && !in.allowed[p] {
			return fmt.Errorf("%w: %q is not in the allowlist", ErrInvalidPackage, p)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	base := expandDir(pm.argv, dir)
	if !pm.perPackage {
		return in.exec(ctx, dir, append(base, packages...))
	}
	for _, p := range packages {
		if err := in.exec(ctx, dir, append(append([]string(nil), base...), p)); err != nil {
			return err
		}
	}

	return nil
}

func (in *ExecInstaller) exec(ctx context.Context, dir string, argv []string) error {
	out, err := in.run(ctx, dir, argv)
	if err != nil {
		if msg := lastLine(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

func expandDir(argv []string, dir string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, dirPlaceholder, dir)
	}
	return out
}
