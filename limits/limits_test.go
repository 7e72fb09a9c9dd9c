package limits

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampString(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{
			name:  "shorter than limit",
			in:    "abc",
			limit: 10,
			want:  "abc",
		},
		{
			name:  "exactly at limit",
			in:    "abcde",
			limit: 5,
			want:  "abcde",
		},
		{
			name:  "over limit",
			in:    "abcdefgh",
			limit: 5,
			want:  "abcde",
		},
		{
			name:  "empty",
			in:    "",
			limit: 5,
			want:  "",
		},
		{
			name:  "multibyte runes",
			in:    "日本語のテキスト",
			limit: 3,
			want:  "日本語",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampString(tt.in, tt.limit)
			require.Equal(t, tt.want, got)
			// Clamping twice equals clamping once
			require.Equal(t, got, ClampString(got, tt.limit))
		})
	}
}

func TestClampAttributes(t *testing.T) {
	longKey := strings.Repeat("k", AttributeKeyLimit+20)
	longValue := strings.Repeat("v", AttributeValueLimit+20)

	out := ClampAttributes(map[string]any{
		longKey:  "x",
		"short":  longValue,
		"number": 17,
	})

	require.Len(t, out, 3)
	for key, value := range out {
		require.LessOrEqual(t, len(key), AttributeKeyLimit)
		if s, ok := value.(string); ok {
			require.LessOrEqual(t, len(s), AttributeValueLimit)
		}
	}
	require.Equal(t, 17, out["number"])
}

func TestClampAttributes_KeyCollision(t *testing.T) {
	prefix := strings.Repeat("k", AttributeKeyLimit)
	out := ClampAttributes(map[string]any{
		prefix + "a": "first",
		prefix + "b": "second",
	})

	// Exactly one of the colliding keys survives
	require.Len(t, out, 1)
	_, ok := out[prefix]
	require.True(t, ok)
}

func TestClampAttributes_Empty(t *testing.T) {
	require.Empty(t, ClampAttributes(nil))
	require.Empty(t, ClampAttributes(map[string]any{}))
}

func TestLimitListStrings(t *testing.T) {
	tests := []struct {
		name  string
		in    []string
		limit int
		want  []string
	}{
		{
			name:  "all fit",
			in:    []string{"a", "bb", "ccc"},
			limit: 100,
			want:  []string{"a", "bb", "ccc"},
		},
		{
			name: "truncated with marker",
			// ["a","bb"] fits, ["a","bb","cccccc"] does not, the marker does
			in:    []string{"a", "bb", "cccccc"},
			limit: 16,
			want:  []string{"a", "bb", "..."},
		},
		{
			name: "marker does not fit",
			// truncation happens but even the marker would blow the budget
			in:    []string{"aaaa", "bbbb"},
			limit: 8,
			want:  []string{"aaaa"},
		},
		{
			name:  "empty input",
			in:    nil,
			limit: 100,
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, LimitListStrings(tt.in, tt.limit))
		})
	}
}

func TestLimitMapStrings(t *testing.T) {
	out := LimitMapStrings(map[string]any{"a": "1", "b": "2"}, 100)
	require.Equal(t, map[string]any{"a": "1", "b": "2"}, out)
}

func TestLimitMapStrings_Truncated(t *testing.T) {
	out := LimitMapStrings(map[string]any{
		"a": "1",
		"b": strings.Repeat("x", 300),
	}, 64)

	// The oversized entry is dropped and the overflow marker is added
	require.Equal(t, "1", out["a"])
	_, hasB := out["b"]
	require.False(t, hasB)
	require.Equal(t, "...", out["..."])
}

func TestLimitMapStrings_UnencodableValue(t *testing.T) {
	out := LimitMapStrings(map[string]any{"ch": make(chan int)}, 100)
	// Unencodable values fall back to their string representation
	_, ok := out["ch"].(string)
	require.True(t, ok)
}
