package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	dirs  []string
	out   []byte
	err   error
}

func (f *fakeRunner) run(_ context.Context, dir string, argv []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.dirs = append(f.dirs, dir)
	return f.out, f.err
}

func TestExecInstaller_Commands(t *testing.T) {
	tests := []struct {
		name     string
		lang     Language
		packages []string
		want     [][]string
	}{
		{
			name:     "python",
			lang:     LangPython,
			packages: []string{"requests==2.31", "pytz"},
			want:     [][]string{{"pip", "install", "requests==2.31", "pytz"}},
		},
		{
			name:     "javascript",
			lang:     LangJavaScript,
			packages: []string{"@scope/pkg@1.2.0"},
			want:     [][]string{{"npm", "install", "--prefix", "/plugins/weather", "@scope/pkg@1.2.0"}},
		},
		{
			name:     "perl",
			lang:     LangPerl,
			packages: []string{"JSON::XS"},
			want:     [][]string{{"cpanm", "JSON::XS"}},
		},
		{
			name:     "lua installs one rock at a time",
			lang:     LangLua,
			packages: []string{"luasocket", "dkjson"},
			want: [][]string{
				{"luarocks", "install", "--tree", "/plugins/weather/lua_modules", "luasocket"},
				{"luarocks", "install", "--tree", "/plugins/weather/lua_modules", "dkjson"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{}
			in := NewExecInstaller(WithCommandRunner(runner.run))

			err := in.Install(context.Background(), Runtime{Kind: ExternalProcess, Lang: tc.lang}, "/plugins/weather", tc.packages)
			require.NoError(t, err)
			assert.Equal(t, tc.want, runner.calls)
			for _, dir := range runner.dirs {
				assert.Equal(t, "/plugins/weather", dir)
			}
		})
	}
}

func TestExecInstaller_RejectsBeforeRunning(t *testing.T) {
	tests := []struct {
		name     string
		packages []string
		options  []InstallOption
	}{
		{name: "shell metacharacters", packages: []string{"requests", "x; rm -rf /"}},
		{name: "flag injection", packages: []string{"--index-url=http://evil"}},
		{name: "whitespace", packages: []string{"two words"}},
		{name: "not allowlisted", packages: []string{"requests", "leftpad"}, options: []InstallOption{WithAllowedPackages("requests")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{}
			in := NewExecInstaller(append(tc.options, WithCommandRunner(runner.run))...)

			err := in.Install(context.Background(), Runtime{Kind: ExternalProcess, Lang: LangPython}, "/p", tc.packages)
			assert.ErrorIs(t, err, ErrInvalidPackage)
			assert.Empty(t, runner.calls)
		})
	}
}

func TestExecInstaller_UnsupportedLanguage(t *testing.T) {
	runner := &fakeRunner{}
	in := NewExecInstaller(WithCommandRunner(runner.run))

	err := in.Install(context.Background(), Runtime{Kind: ExternalProcess, Lang: LangShell}, "/p", []string{"jq"})
	assert.ErrorIs(t, err, ErrUnsupportedRuntime)
	assert.Empty(t, runner.calls)
}

func TestExecInstaller_FailureCarriesOutput(t *testing.T) {
	runner := &fakeRunner{
		out: []byte("Collecting nope\nERROR: No matching distribution found for nope\n"),
		err: errors.New("exit status 1"),
	}
	in := NewExecInstaller(WithCommandRunner(runner.run))

	err := in.Install(context.Background(), Runtime{Kind: ExternalProcess, Lang: LangPython}, "/p", []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pip")
	assert.Contains(t, err.Error(), "No matching distribution found for nope")
}

func TestExecInstaller_NoPackagesIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	in := NewExecInstaller(WithCommandRunner(runner.run))

	require.NoError(t, in.Install(context.Background(), Runtime{Lang: LangPython}, "/p", nil))
	assert.Empty(t, runner.calls)
}

func TestValidatePackage(t *testing.T) {
	for _, ok := range []string{"requests", "requests>=2.0", "@types/node", "JSON::XS", "lua-cjson", "numpy~=1.26"} {
		assert.NoError(t, ValidatePackage(ok), ok)
	}
	for _, bad := range []string{"", "-e", "a b", "a|b", "$(id)", "a,b", "`x`"} {
		assert.ErrorIs(t, ValidatePackage(bad), ErrInvalidPackage, bad)
	}
}
