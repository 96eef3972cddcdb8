package store

import (
	"fmt"
	"strings"
)

// Query is a tokenized multi-field search over the accumulated record text.
// Tokens within one field are OR-ed; the three fields are AND-ed together.
type Query struct {
	Regions     []string
	Specialties []string
	Targets     []string

	// Sort selects the result ordering; see OrderBy for the accepted keys.
	Sort string
}

// ParseQuery splits the CSV-style query parameters into cleaned token lists.
func ParseQuery(region, specialty, targets string) Query {
	return Query{
		Regions:     splitCSV(region),
		Specialties: splitCSV(specialty),
		Targets:     splitCSV(targets),
	}
}

// IsEmpty reports whether no field carries a token.
func (q Query) IsEmpty() bool {
	return len(q.Regions) == 0 && len(q.Specialties) == 0 && len(q.Targets) == 0
}

// OrderBy maps the sort key to a whitelisted ORDER BY clause. Only column
// names produced here ever reach the SQL text; unknown keys fall back to
// recency.
func (q Query) OrderBy() string {
	switch q.Sort {
	case "name":
		return "name ASC, id ASC"
	default:
		return "updated_at DESC"
	}
}

// Build renders the query as a SQL predicate with placeholders numbered from
// start. Region tokens substring-match with punctuation and whitespace
// stripped from both sides; specialty and target tokens must appear as
// delimiter-bounded segments so that "가족" cannot match inside "가족상담".
func (q Query) Build(start int) (string, []any) {
	var (
		groups []string
		args   []any
	)
	next := func() string {
		ph := fmt.Sprintf("$%d", start+len(args))
		return ph
	}

	if len(q.Regions) > 0 {
		var ors []string
		for _, tok := range q.Regions {
			ors = append(ors, regionColumnExpr+" LIKE "+next())
			args = append(args, "%"+tightToken(tok)+"%")
		}
		groups = append(groups, "("+strings.Join(ors, " OR ")+")")
	}

	if len(q.Specialties) > 0 {
		var ors []string
		for _, tok := range q.Specialties {
			ors = append(ors, specialtyColumnExpr+" LIKE "+next())
			args = append(args, "%/"+strings.ToLower(strings.TrimSpace(tok))+"/%")
		}
		groups = append(groups, "("+strings.Join(ors, " OR ")+")")
	}

	if len(q.Targets) > 0 {
		var ors []string
		for _, tok := range q.Targets {
			ors = append(ors, targetsColumnExpr+" LIKE "+next())
			cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tok), " ", ""))
			args = append(args, "%/"+cleaned+"/%")
		}
		groups = append(groups, "("+strings.Join(ors, " OR ")+")")
	}

	return strings.Join(groups, " AND "), args
}

// regionColumnExpr strips the separators the crawl merges regions with, so a
// token matches regardless of how the stored text was delimited.
var regionColumnExpr = replaceChain("LOWER(regions)",
	" ", "|", ";", ":", "-", "·", "ㆍ", ",")

// specialtyColumnExpr wraps the stored "/"-joined value in slashes so tokens
// match whole segments only.
const specialtyColumnExpr = "('/' || LOWER(specialty) || '/')"

// targetsColumnExpr normalizes the mixed delimiters seen in target text to
// "/" and drops interior spaces before bounded matching.
var targetsColumnExpr = "('/' || " +
	replaceChainTo("LOWER(targets)", "/", "|", "·", "ㆍ", ";", ",") +
	" || '/')"

func replaceChain(expr string, remove ...string) string {
	for _, r := range remove {
		expr = fmt.Sprintf("REPLACE(%s, '%s', '')", expr, r)
	}
	return expr
}

func replaceChainTo(expr, with string, from ...string) string {
	for _, r := range from {
		expr = fmt.Sprintf("REPLACE(%s, '%s', '%s')", expr, r, with)
	}
	// Interior spaces are noise inside a target token.
	return fmt.Sprintf("REPLACE(%s, ' ', '')", expr)
}

func tightToken(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, r := range []string{" ", "|", ";", ":", "-", "·", "ㆍ", ","} {
		t = strings.ReplaceAll(t, r, "")
	}
	return t
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
