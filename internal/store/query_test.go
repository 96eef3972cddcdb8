package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuerySplitsAndCleans(t *testing.T) {
	t.Parallel()

	q := ParseQuery(" 서울 , 부산,, 서울", "개인상담", "")
	require.Equal(t, []string{"서울", "부산"}, q.Regions)
	require.Equal(t, []string{"개인상담"}, q.Specialties)
	require.Empty(t, q.Targets)
	require.False(t, q.IsEmpty())
	require.True(t, ParseQuery("", "", "").IsEmpty())
}

func TestOrderByWhitelistsSortKeys(t *testing.T) {
	t.Parallel()

	require.Equal(t, "updated_at DESC", Query{}.OrderBy())
	require.Equal(t, "name ASC, id ASC", Query{Sort: "name"}.OrderBy())
	// unknown keys never reach the SQL text
	require.Equal(t, "updated_at DESC", Query{Sort: "updated_at; DROP TABLE counselors"}.OrderBy())
}

func TestBuildEmptyQuery(t *testing.T) {
	t.Parallel()

	where, args := Query{}.Build(1)
	require.Empty(t, where)
	require.Empty(t, args)
}

func TestBuildSpecialtyBoundedSegments(t *testing.T) {
	t.Parallel()

	where, args := Query{Specialties: []string{"개인상담"}}.Build(1)
	require.Equal(t, "(('/' || LOWER(specialty) || '/') LIKE $1)", where)
	require.Equal(t, []any{"%/개인상담/%"}, args)
}

// A record storing "가족상담/개인상담" renders as "/가족상담/개인상담/": the
// pattern for "개인상담" matches while the bare substring "가족" cannot.
func TestSpecialtyBoundaryCorrectness(t *testing.T) {
	t.Parallel()

	stored := "/가족상담/개인상담/"

	_, hitArgs := Query{Specialties: []string{"개인상담"}}.Build(1)
	require.Contains(t, stored, trimLikePattern(hitArgs[0].(string)))

	_, missArgs := Query{Specialties: []string{"가족"}}.Build(1)
	require.NotContains(t, stored, trimLikePattern(missArgs[0].(string)))
}

func trimLikePattern(p string) string {
	return p[1 : len(p)-1]
}

func TestBuildRegionStripsPunctuation(t *testing.T) {
	t.Parallel()

	where, args := Query{Regions: []string{"서울 강남"}}.Build(3)
	require.Contains(t, where, "REPLACE(")
	require.Contains(t, where, "LOWER(regions)")
	require.Contains(t, where, "$3")
	require.Equal(t, []any{"%서울강남%"}, args)
}

func TestBuildTargetsNormalizesDelimiters(t *testing.T) {
	t.Parallel()

	where, args := Query{Targets: []string{"아동"}}.Build(1)
	require.Contains(t, where, "LOWER(targets)")
	require.Contains(t, where, "'/'")
	require.Equal(t, []any{"%/아동/%"}, args)
}

func TestBuildFieldsAndTokensCompose(t *testing.T) {
	t.Parallel()

	q := Query{
		Regions:     []string{"서울", "부산"},
		Specialties: []string{"개인상담"},
		Targets:     []string{"아동", "청소년"},
	}
	where, args := q.Build(1)
	require.Len(t, args, 5)
	// OR inside a field, AND across fields.
	require.Equal(t, 2, countSubstr(where, " AND "))
	require.Equal(t, 2, countSubstr(where, " OR "))
	for i := 1; i <= 5; i++ {
		require.Contains(t, where, placeholderOf(i))
	}
}

func countSubstr(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}

func placeholderOf(n int) string {
	return "$" + string(rune('0'+n))
}
