package pathspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    Kind
		wantErr bool
	}{
		{name: "exact", input: "/profile", kind: KindExact},
		{name: "root exact", input: "/", kind: KindExact},
		{name: "prefix", input: "/openid/*", kind: KindPrefix},
		{name: "default", input: "/*", kind: KindDefault},
		{name: "missing slash", input: "profile", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "inner wildcard", input: "/a/*/b", wantErr: true},
		{name: "suffix wildcard", input: "*.jsp", wantErr: true},
		{name: "wildcard without separator", input: "/openid*", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPattern)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestTable_Match(t *testing.T) {
	table := NewTable[string]()
	for _, p := range []string{"/*", "/openid/*", "/openid/admin/*", "/profile", "/login", "/openid/admin"} {
		require.NoError(t, table.Add(p, p))
	}

	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "/*"},
		{path: "/profile", want: "/profile"},
		{path: "/profile/extra", want: "/*"},
		{path: "/openid", want: "/*"},
		{path: "/openid/", want: "/openid/*"},
		{path: "/openid/auth", want: "/openid/*"},
		{path: "/openid/admin", want: "/openid/admin"},
		{path: "/openid/admin/", want: "/openid/admin/*"},
		{path: "/openid/admin/users", want: "/openid/admin/*"},
		{path: "/openid/administrator", want: "/openid/*"},
		{path: "/login", want: "/login"},
		{path: "/loginx", want: "/*"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			pattern, value, ok := table.Match(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, pattern.String())
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestTable_MatchIsDeterministic(t *testing.T) {
	build := func(order []string) *Table[string] {
		table := NewTable[string]()
		for _, p := range order {
			require.NoError(t, table.Add(p, p))
		}
		return table
	}
	a := build([]string{"/*", "/a/*", "/a/b/*", "/a/b/c"})
	b := build([]string{"/a/b/c", "/a/b/*", "/a/*", "/*"})

	for _, path := range []string{"/", "/a", "/a/", "/a/b", "/a/b/", "/a/b/c", "/a/b/c/d", "/z"} {
		pa, _, okA := a.Match(path)
		pb, _, okB := b.Match(path)
		assert.Equal(t, okA, okB, path)
		assert.Equal(t, pa.String(), pb.String(), path)
	}
}

func TestTable_NoDefault(t *testing.T) {
	table := NewTable[int]()
	require.NoError(t, table.Add("/openid/*", 1))

	_, _, ok := table.Match("/elsewhere")
	assert.False(t, ok)
	assert.False(t, table.HasDefault())
}

func TestTable_DuplicateRejected(t *testing.T) {
	table := NewTable[int]()
	require.NoError(t, table.Add("/openid/*", 1))
	require.NoError(t, table.Add("/openid", 2))

	err := table.Add("/openid/*", 3)
	require.ErrorIs(t, err, ErrDuplicatePattern)

	err = table.Add("/openid", 4)
	require.ErrorIs(t, err, ErrDuplicatePattern)

	require.NoError(t, table.Add("/*", 5))
	require.ErrorIs(t, table.Add("/*", 6), ErrDuplicatePattern)
	assert.Equal(t, 3, table.Len())
}

func TestPattern_Overlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/*", "/x", true},
		{"/openid/*", "/openid/admin/*", true},
		{"/openid/*", "/openidx/*", false},
		{"/openid/*", "/openid", false},
		{"/openid/*", "/openid/auth", true},
		{"/a", "/a", true},
		{"/a", "/b", false},
	}
	for _, tt := range tests {
		a, err := Parse(tt.a)
		require.NoError(t, err)
		b, err := Parse(tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Overlaps(b), "%s vs %s", tt.a, tt.b)
		assert.Equal(t, tt.want, b.Overlaps(a), "%s vs %s", tt.b, tt.a)
	}
}

func TestTable_Each(t *testing.T) {
	table := NewTable[int]()
	require.NoError(t, table.Add("/*", 0))
	require.NoError(t, table.Add("/b", 1))
	require.NoError(t, table.Add("/a/*", 2))
	require.NoError(t, table.Add("/a/b/*", 3))

	var got []string
	table.Each(func(p Pattern, _ int) { got = append(got, p.String()) })
	assert.Equal(t, []string{"/b", "/a/b/*", "/a/*", "/*"}, got)
}
