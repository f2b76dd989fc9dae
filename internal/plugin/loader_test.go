package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type installCall struct {
	rt       Runtime
	dir      string
	packages []string
}

type recordingInstaller struct {
	mu    sync.Mutex
	calls []installCall
	err   error
}

func (r *recordingInstaller) Install(_ context.Context, rt Runtime, dir string, packages []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, installCall{rt: rt, dir: dir, packages: append([]string(nil), packages...)})
	return r.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscover_ValidAndInvalidPlugins(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "weather", "main.sh"), "echo sunny\n")
	writeFile(t, filepath.Join(root, "time", "main.lua"), `assistant.speak("noon")`)
	writeFile(t, filepath.Join(root, "nested", "music", "main.py"), "print('la')\n")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	writeFile(t, filepath.Join(root, "docs", "README.md"), "not a plugin")
	writeFile(t, filepath.Join(root, "broken", "main.lua"), "this is not lua (")
	writeFile(t, filepath.Join(root, "wrongname", "index.js"), "console.log(1)")

	reg, err := NewLoader().Discover(context.Background(), root)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"weather", "time", "music"}, reg.Names())
	assert.True(t, reg.Sealed())

	weather, ok := reg.Get("weather")
	require.True(t, ok)
	assert.Equal(t, ExternalProcess, weather.Kind)
	assert.Equal(t, LangShell, weather.Lang)
	assert.Equal(t, filepath.Join(root, "weather"), weather.Dir)

	clock, ok := reg.Get("time")
	require.True(t, ok)
	assert.Equal(t, EmbeddedScript, clock.Kind)
	src, ok := clock.Source()
	require.True(t, ok)
	assert.Contains(t, src, "noon")
}

func TestDiscover_EntryPriority(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "weather", "main.py"), "print('py')\n")
	writeFile(t, filepath.Join(root, "weather", "main.lua"), "return 'lua'")

	reg, err := NewLoader().Discover(context.Background(), root)
	require.NoError(t, err)

	d, ok := reg.Get("weather")
	require.True(t, ok)
	assert.Equal(t, EmbeddedScript, d.Kind)
}

func TestDiscover_InstallsDeclaredDependenciesOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "weather", "main.py"), "print('x')\n")
	writeFile(t, filepath.Join(root, "weather", InfoFile), "author: Ada\ndependencies: requests, pytz, tzdata\n")
	writeFile(t, filepath.Join(root, "time", "main.js"), "console.log('x')\n")
	writeFile(t, filepath.Join(root, "time", InfoFile), "dependencies:\n")
	writeFile(t, filepath.Join(root, "music", "main.pl"), "print 'x';\n")

	installer := &recordingInstaller{}
	reg, err := NewLoader(WithInstaller(installer)).Discover(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	require.Len(t, installer.calls, 1)
	call := installer.calls[0]
	assert.Equal(t, Runtime{Kind: ExternalProcess, Lang: LangPython}, call.rt)
	assert.Equal(t, filepath.Join(root, "weather"), call.dir)
	assert.Equal(t, []string{"requests", "pytz", "tzdata"}, call.packages)

	d, _ := reg.Get("weather")
	assert.Equal(t, "Ada", d.Metadata.Author)
}

func TestDiscover_InstallFailureKeepsPlugin(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "alpha", "main.py"), "print('a')\n")
	writeFile(t, filepath.Join(root, "alpha", InfoFile), "dependencies: missing-package\n")
	writeFile(t, filepath.Join(root, "beta", "main.py"), "print('b')\n")
	writeFile(t, filepath.Join(root, "beta", InfoFile), "dependencies: other\n")

	installer := &recordingInstaller{err: errors.New("pip exploded")}
	reg, err := NewLoader(WithInstaller(installer)).Discover(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())
	assert.Len(t, installer.calls, 2)
}

func TestDiscover_DuplicateNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "weather", "main.sh"), "echo first\n")
	writeFile(t, filepath.Join(root, "b", "weather", "main.sh"), "echo second\n")

	t.Run("last discovered wins", func(t *testing.T) {
		reg, err := NewLoader().Discover(context.Background(), root)
		require.NoError(t, err)
		require.Equal(t, 1, reg.Len())
		d, _ := reg.Get("weather")
		assert.Equal(t, filepath.Join(root, "b", "weather"), d.Dir)
	})

	t.Run("strict keeps the first", func(t *testing.T) {
		reg, err := NewLoader(WithStrictNames(true)).Discover(context.Background(), root)
		require.NoError(t, err)
		require.Equal(t, 1, reg.Len())
		d, _ := reg.Get("weather")
		assert.Equal(t, filepath.Join(root, "a", "weather"), d.Dir)
	})
}

func TestDiscover_BuiltinsDoNotOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "stop", "main.sh"), "echo custom\n")

	reg, err := NewLoader(WithBuiltins(Builtins()...)).Discover(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"stop", "exit", "quit"}, reg.Names())
	d, _ := reg.Get("stop")
	assert.Equal(t, ExternalProcess, d.Kind)
	d, _ = reg.Get("exit")
	assert.Equal(t, NativeCallable, d.Kind)
}

func TestDiscover_SkipsPackageManagerTrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "weather", "main.js"), "console.log('x')\n")
	writeFile(t, filepath.Join(root, "weather", "node_modules", "dep", "main.js"), "module.exports = {}\n")
	writeFile(t, filepath.Join(root, ".git", "hooks", "main.sh"), "exit 0\n")

	reg, err := NewLoader().Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, reg.Names())
}

func TestDiscover_NativeEntry(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "greet", "main.so"), "not really an ELF")
	writeFile(t, filepath.Join(root, "bad", "main.so"), "garbage")

	opener := func(path string) (NativeFunc, error) {
		if filepath.Base(filepath.Dir(path)) == "bad" {
			return nil, errors.New("invalid ELF header")
		}
		return echo("hello"), nil
	}

	reg, err := NewLoader(WithNativeOpener(opener)).Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"greet"}, reg.Names())
}

func TestDiscover_UnreadableRoot(t *testing.T) {
	_, err := NewLoader().Discover(context.Background(), filepath.Join(t.TempDir(), "missing"))

	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiscover_RootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins")
	writeFile(t, path, "")

	_, err := NewLoader().Discover(context.Background(), path)
	var derr *DiscoveryError
	assert.ErrorAs(t, err, &derr)
}
