package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/textnorm"
)

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	labelTrim = regexp.MustCompile(`\s+`)
)

// profile table labels, normalized (whitespace stripped, lowercased).
// Email tolerates synonyms via contains-match below.
const (
	labelName    = "이름"
	labelGender  = "성별"
	labelLicense = "자격증"
)

// ParseDetail extracts the full field set from one detail page. Missing
// tables or rows never fail; absent fields stay empty.
func ParseDetail(doc *goquery.Document, baseURL string) counselor.Detail {
	var d counselor.Detail

	if src, ok := doc.Find(".counselor_profile_wrap .counselor_img img[src]").First().Attr("src"); ok {
		d.ProfileImage = Absolutize(baseURL, src)
	}

	doc.Find("table.counselor_profile tr").Each(func(_ int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		td := tr.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := strings.ToLower(labelTrim.ReplaceAllString(th.Text(), ""))

		switch key {
		case labelName:
			if v := textnorm.Normalize(td.Text()); v != "" {
				d.Name = v
			}
		case labelGender:
			if v := textnorm.Normalize(td.Text()); v != "" {
				d.Gender = v
			}
		case labelLicense:
			// The line breaks are the only separator between individual
			// licenses, so turn <br> into \n before extracting text.
			if v := textnorm.Normalize(textWithBreaks(td)); v != "" {
				d.LicenseType = v
			}
		default:
			if strings.Contains(key, "이메일") || strings.Contains(key, "email") {
				if v := textnorm.Normalize(td.Text()); v != "" {
					d.Email = v
				}
			}
		}
	})

	// Label drift guard: scan the whole page for an email when no label hit.
	if d.Email == "" {
		if m := emailRe.FindString(doc.Text()); m != "" {
			d.Email = m
		}
	}

	doc.Find("table.counselor_info tr").Each(func(_ int, tr *goquery.Selection) {
		th := labelTrim.ReplaceAllString(tr.Find("th").First().Text(), "")
		td := tr.Find("td").First()
		if td.Length() == 0 {
			return
		}

		switch {
		case strings.Contains(th, "상담대상"):
			d.Targets = textnorm.Normalize(td.Text())
		case strings.Contains(th, "전문분야"):
			d.Specialty = textnorm.Normalize(td.Text())
		case strings.Contains(th, "상담가능장소"):
			d.Regions = textnorm.Normalize(extractPlaces(td))
		case strings.Contains(th, "상담비용"):
			d.Fee = textnorm.Normalize(td.Text())
		case strings.Contains(th, "자격번호"):
			d.LicenseNo = textnorm.Normalize(td.Text())
		}
	})

	return d
}

// extractPlaces renders the definition list inside the places cell as
// "term : definition" pairs joined by "; ", falling back to the raw cell
// text when the cell carries no definition list.
func extractPlaces(td *goquery.Selection) string {
	var parts []string
	td.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dt := strings.TrimSpace(dl.Find("dt").First().Text())
		dd := strings.TrimSpace(dl.Find("dd").First().Text())
		line := dd
		if dt != "" {
			line = dt + " : " + dd
		}
		if strings.TrimSpace(line) != "" {
			parts = append(parts, line)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	return td.Text()
}

func textWithBreaks(td *goquery.Selection) string {
	td.Find("br").AfterHtml("\n")
	return td.Text()
}
