package segtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		want    []Segment
		wantErr error
	}{
		{name: "root", pattern: "/", want: nil},
		{name: "empty", pattern: "", want: nil},
		{name: "static", pattern: "/hello", want: []Segment{{Static, "hello"}}},
		{name: "trailing slash discarded", pattern: "/hello/", want: []Segment{{Static, "hello"}}},
		{
			name:    "param",
			pattern: "/greet/:name",
			want:    []Segment{{Static, "greet"}, {Param, "name"}},
		},
		{
			name:    "catch-all",
			pattern: "/src/*filepath",
			want:    []Segment{{Static, "src"}, {CatchAll, "filepath"}},
		},
		{name: "empty segment", pattern: "/foo//bar", wantErr: ErrEmptySegment},
		{name: "catch-all not last", pattern: "/*a/b", wantErr: ErrCatchAllNotLast},
		{name: "empty param name", pattern: "/:", wantErr: ErrEmptyParamName},
		{name: "empty catch-all name", pattern: "/*", wantErr: ErrEmptyParamName},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePattern(tt.pattern, true)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParsePatternDuplicateParamName(t *testing.T) {
	t.Parallel()
	_, err := ParsePattern("/:id/sub/:id", true)
	require.ErrorIs(t, err, ErrDuplicateParamName)

	// Relaxed mode (actions) does not enforce uniqueness.
	_, err = ParsePattern("/:id/sub/:id", false)
	require.NoError(t, err)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "root", in: "/", want: nil},
		{name: "simple", in: "/a/b", want: []string{"a", "b"}},
		{name: "collapsed and trailing", in: "//a///b///", want: []string{"a", "b"}},
		{name: "dot segment", in: "/a/./b", want: []string{"a", "b"}},
		{name: "dot-dot pops", in: "/a/b/../c", want: []string{"a", "c"}},
		{name: "dot-dot at root is a no-op", in: "/../a", want: []string{"a"}},
		{name: "percent decoded", in: "/a%20b/c", want: []string{"a b", "c"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizePath(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestJoinCatchAll(t *testing.T) {
	t.Parallel()
	require.Equal(t, "/", JoinCatchAll(nil))
	require.Equal(t, "/a/b", JoinCatchAll([]string{"a", "b"}))
}

func TestInsertExclusiveStaticParamConflict(t *testing.T) {
	t.Parallel()

	root := NewNode[string](true)
	segsStatic, _ := ParsePattern("/foo", true)
	root, err := Insert(root, segsStatic, func(string, bool) (string, error) { return "static", nil })
	require.NoError(t, err)

	segsParam, _ := ParsePattern("/:name", true)
	_, err = Insert(root, segsParam, func(string, bool) (string, error) { return "param", nil })
	require.ErrorIs(t, err, ErrChildConflict)
}

func TestInsertExclusiveCatchAllTerminalConflict(t *testing.T) {
	t.Parallel()

	root := NewNode[string](true)
	segsTerminal, _ := ParsePattern("/src", true)
	root, err := Insert(root, segsTerminal, func(string, bool) (string, error) { return "exact", nil })
	require.NoError(t, err)

	segsCatchAll, _ := ParsePattern("/src/*path", true)
	_, err = Insert(root, segsCatchAll, func(string, bool) (string, error) { return "catchall", nil })
	require.ErrorIs(t, err, ErrCatchAllConflict)

	// The reverse order is also a conflict.
	root2 := NewNode[string](true)
	root2, err = Insert(root2, segsCatchAll, func(string, bool) (string, error) { return "catchall", nil })
	require.NoError(t, err)
	_, err = Insert(root2, segsTerminal, func(string, bool) (string, error) { return "exact", nil })
	require.ErrorIs(t, err, ErrCatchAllConflict)
}

func TestInsertIsPersistent(t *testing.T) {
	t.Parallel()

	root := NewNode[string](true)
	segs, _ := ParsePattern("/a/b", true)
	root1, err := Insert(root, segs, func(string, bool) (string, error) { return "v1", nil })
	require.NoError(t, err)

	segs2, _ := ParsePattern("/a/c", true)
	root2, err := Insert(root1, segs2, func(string, bool) (string, error) { return "v2", nil })
	require.NoError(t, err)

	// root1 must be unaffected by the second insert.
	steps := Walk(root1, []string{"a", "c"})
	require.False(t, Matched(steps, 2))

	steps = Walk(root2, []string{"a", "b"})
	require.True(t, Matched(steps, 2))
	payload, ok := steps[len(steps)-1].Node.Payload()
	require.True(t, ok)
	require.Equal(t, "v1", payload)

	steps = Walk(root2, []string{"a", "c"})
	require.True(t, Matched(steps, 2))
	payload, ok = steps[len(steps)-1].Node.Payload()
	require.True(t, ok)
	require.Equal(t, "v2", payload)
}

func TestWalkParamAndCatchAll(t *testing.T) {
	t.Parallel()

	root := NewNode[string](true)
	segs, _ := ParsePattern("/greet/:name", true)
	root, err := Insert(root, segs, func(string, bool) (string, error) { return "greet", nil })
	require.NoError(t, err)

	segs2, _ := ParsePattern("/src/*filepath", true)
	root, err = Insert(root, segs2, func(string, bool) (string, error) { return "src", nil })
	require.NoError(t, err)

	steps := Walk(root, []string{"greet", "John"})
	require.True(t, Matched(steps, 2))
	require.Equal(t, "John", steps[len(steps)-1].ParamValue)

	steps = Walk(root, []string{"src", "a", "b.txt"})
	require.True(t, Matched(steps, 3))
	require.Equal(t, "/a/b.txt", steps[len(steps)-1].ParamValue)

	steps = Walk(root, []string{"src"})
	require.True(t, Matched(steps, 1))
	require.Equal(t, "/", steps[len(steps)-1].ParamValue)

	// "/:p" must not match the bare root.
	root2 := NewNode[string](true)
	segs3, _ := ParsePattern("/:p", true)
	root2, err = Insert(root2, segs3, func(string, bool) (string, error) { return "p", nil })
	require.NoError(t, err)
	steps = Walk(root2, nil)
	require.False(t, Matched(steps, 0))
}

func TestWalkCatchAllMatchesZeroSegments(t *testing.T) {
	t.Parallel()

	root := NewNode[string](true)
	segs, _ := ParsePattern("/*p", true)
	root, err := Insert(root, segs, func(string, bool) (string, error) { return "all", nil })
	require.NoError(t, err)

	steps := Walk(root, nil)
	require.True(t, Matched(steps, 0))
	last := steps[len(steps)-1]
	require.True(t, last.IsCatchAll)
	require.Equal(t, "/", last.ParamValue)

	steps = Walk(root, []string{"anything", "here"})
	require.True(t, Matched(steps, 2))
	require.Equal(t, "/anything/here", steps[len(steps)-1].ParamValue)
}

func TestWalkBacktracksFromDeadEndStaticBranch(t *testing.T) {
	t.Parallel()

	root := NewNode[string](false)
	segsDeep, _ := ParsePattern("/src/static", true)
	root, err := Insert(root, segsDeep, func(string, bool) (string, error) { return "deep", nil })
	require.NoError(t, err)
	segsAll, _ := ParsePattern("/*rest", true)
	root, err = Insert(root, segsAll, func(string, bool) (string, error) { return "all", nil })
	require.NoError(t, err)

	// "src" exists as a static child but leads nowhere for this path; the
	// walk must fall back to the root catch-all.
	steps := Walk(root, []string{"src", "other"})
	require.True(t, Matched(steps, 2))
	payload, ok := steps[len(steps)-1].Node.Payload()
	require.True(t, ok)
	require.Equal(t, "all", payload)
	require.Equal(t, "/src/other", steps[len(steps)-1].ParamValue)
}
