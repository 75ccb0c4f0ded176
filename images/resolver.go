package images

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	srcAttr    = "src"
	altSrcAttr = "data-original-uri"
	styleAttr  = "style"
)

var backgroundURL = regexp.MustCompile(`url\("([^"]+)"\)`)

// Resolve collects the image URLs of one review element in discovery
// order: inline <img> sources, then background images from the element's
// own style, then the name index fallback when nothing else was found.
func Resolve(ctx context.Context, el *goquery.Selection, username *string, ix *NameIndex) []string {
	var urls urlSet

	el.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr(srcAttr, "")
		if src == "" {
			src = img.AttrOr(altSrcAttr, "")
		}
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			urls.add(src)
		}
	})

	for _, u := range BackgroundImages(el.AttrOr(styleAttr, "")) {
		urls.add(u)
	}

	if urls.size() == 0 && username != nil && *username != "" && ix != nil {
		if u, ok := ix.Lookup(ctx, *username); ok {
			urls.add(u)
		}
	}

	return urls.list()
}

// BackgroundImages returns the https url("...") values of an inline style.
func BackgroundImages(style string) []string {
	var urls urlSet
	for _, m := range backgroundURL.FindAllStringSubmatch(style, -1) {
		if strings.HasPrefix(m[1], "https://") {
			urls.add(m[1])
		}
	}
	return urls.list()
}

// urlSet keeps first-seen order and drops exact duplicates.
type urlSet struct {
	seen  map[string]struct{}
	order []string
}

func (s *urlSet) add(u string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[u]; ok {
		return
	}
	s.seen[u] = struct{}{}
	s.order = append(s.order, u)
}

func (s *urlSet) size() int {
	return len(s.order)
}

func (s *urlSet) list() []string {
	if s.order == nil {
		return []string{}
	}
	return s.order
}
