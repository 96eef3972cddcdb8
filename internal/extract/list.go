// Package extract parses directory list and detail pages into structured records.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/textnorm"
)

const minListCells = 8

var (
	nonDigits   = regexp.MustCompile(`[^0-9]`)
	pageParamRe = regexp.MustCompile(`page=([0-9]+)`)
)

// ParseList extracts summary rows from one paginated list page. Rows missing
// optional fields are still returned with those fields empty; callers decide
// whether a row without an origin number is usable.
func ParseList(doc *goquery.Document, baseURL string) []counselor.ListRow {
	var rows []counselor.ListRow

	doc.Find("table.counselors_list > tbody > tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < minListCells {
			return
		}

		spec := strings.ReplaceAll(cellText(tds, 3), "...", "…")

		href, _ := tds.Eq(7).Find("a[href]").First().Attr("href")

		rows = append(rows, counselor.ListRow{
			SourceID:  ExtractSourceID(href),
			DetailURL: Absolutize(baseURL, href),
			Name:      textnorm.Normalize(cellText(tds, 2)),
			Gender:    textnorm.Normalize(cellText(tds, 1)),
			Region:    textnorm.Normalize(cellText(tds, 0)),
			Specialty: textnorm.Normalize(spec),
			Comment:   textnorm.Normalize(cellText(tds, 4)),
			Acquired:  textnorm.Normalize(cellText(tds, 6)),
		})
	})

	return rows
}

// LastPage returns the highest page index found in the pagination links, or 1
// when the page carries no pagination at all.
func LastPage(doc *goquery.Document) int {
	max := 1
	doc.Find(`.paging a[href*="page="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := pageParamRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	})
	return max
}

// ExtractSourceID pulls the origin record number out of a detail link's query
// string. Empty when the link carries no idx parameter.
func ExtractSourceID(href string) string {
	i := strings.Index(href, "idx=")
	if i < 0 {
		return ""
	}
	return nonDigits.ReplaceAllString(href[i+4:], "")
}

// Absolutize resolves href against base, returning href unchanged when either
// side does not parse.
func Absolutize(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

func cellText(tds *goquery.Selection, i int) string {
	return strings.TrimSpace(tds.Eq(i).Text())
}
