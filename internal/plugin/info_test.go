package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Metadata
	}{
		{
			name: "all keys",
			in:   "author: Ada\ndescription: Reports the weather\ndependencies: requests, pytz\n",
			want: Metadata{Author: "Ada", Description: "Reports the weather", Dependencies: []string{"requests", "pytz"}},
		},
		{
			name: "empty dependencies",
			in:   "dependencies:\nauthor: Ada",
			want: Metadata{Author: "Ada"},
		},
		{
			name: "unknown keys and noise ignored",
			in:   "# comment\nversion: 1.0\n\nno colon here\nlicense: MIT\ndescription: hi",
			want: Metadata{Description: "hi"},
		},
		{
			name: "value keeps later colons",
			in:   "description: time: local and utc",
			want: Metadata{Description: "time: local and utc"},
		},
		{
			name: "keys are case insensitive",
			in:   "Author: Ada\nDEPENDENCIES: a,,b ,",
			want: Metadata{Author: "Ada", Dependencies: []string{"a", "b"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInfo(strings.NewReader(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseInfo_DependenciesKeepOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		deps := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9_\-]{0,12}`), 1, 8).Draw(t, "deps")

		md, err := ParseInfo(strings.NewReader("dependencies: " + strings.Join(deps, ", ") + "\n"))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(md.Dependencies) != len(deps) {
			t.Fatalf("got %v, want %v", md.Dependencies, deps)
		}
		for i := range deps {
			if md.Dependencies[i] != deps[i] {
				t.Fatalf("dependency %d = %q, want %q", i, md.Dependencies[i], deps[i])
			}
		}
	})
}

func TestReadInfo_Missing(t *testing.T) {
	md, found, err := ReadInfo(filepath.Join(t.TempDir(), InfoFile))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Metadata{}, md)
}

func TestReadInfo_Present(t *testing.T) {
	path := filepath.Join(t.TempDir(), InfoFile)
	require.NoError(t, os.WriteFile(path, []byte("author: Bob\n"), 0o644))

	md, found, err := ReadInfo(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Bob", md.Author)
}
