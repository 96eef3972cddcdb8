package fetch

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/extract"
)

// FetchFollowingFrames fetches rawURL and, when the document's root is a
// frame container with no visible content, descends into the named main
// frame (or the first frame found) until it reaches a real document. Some
// legacy directory pages serve everything through a child frame; a naive
// fetch would parse an empty shell.
func (f *Fetcher) FetchFollowingFrames(ctx context.Context, rawURL string) (*goquery.Document, error) {
	current := f.normalizeFrameURL(rawURL)
	for depth := 0; depth <= f.cfg.MaxFrameDepth; depth++ {
		doc, err := f.FetchDocument(ctx, current)
		if err != nil {
			return nil, err
		}

		src, ok := frameSrc(doc)
		if !ok {
			return doc, nil
		}
		next := f.normalizeFrameURL(extract.Absolutize(current, src))
		f.logger.Debug("following frame", zap.String("from", current), zap.String("to", next))
		current = next
	}
	return nil, &Error{URL: rawURL, Err: ErrFrameDepthExceeded}
}

// frameSrc finds the frame to descend into: the named main frame first, then
// the first frame of the frameset, then any frame in the document.
func frameSrc(doc *goquery.Document) (string, bool) {
	frameset := doc.Find("frameset").First()
	if frameset.Length() == 0 {
		return "", false
	}
	for _, sel := range []string{`frameset frame[name="mainFrame"]`, "frameset frame", "frame"} {
		if src, ok := doc.Find(sel).First().Attr("src"); ok && src != "" {
			return src, true
		}
	}
	return "", false
}

// The directory redirects plain-http and www-prefixed URLs through an
// interstitial; rewriting up front avoids a wasted round trip.
func (f *Fetcher) normalizeFrameURL(u string) string {
	if !f.cfg.ForceHTTPS {
		return u
	}
	u = strings.Replace(u, "http://", "https://", 1)
	return strings.Replace(u, "//www.", "//", 1)
}
