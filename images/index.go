package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
)

// DefaultStateMarker is the global the page assigns its state blob to.
const DefaultStateMarker = "window.__INITIAL_STATE__"

// PageSource returns the full markup of the current page.
type PageSource func(ctx context.Context) (string, error)

// NameIndex maps a normalized first name to a profile picture URL. It is
// built at most once, on the first Lookup, and is read-only afterwards.
type NameIndex struct {
	source  PageSource
	pattern *regexp.Regexp

	mu      sync.Mutex
	built   bool
	entries map[string]string
}

func NewNameIndex(marker string, source PageSource) *NameIndex {
	if marker == "" {
		marker = DefaultStateMarker
	}
	return &NameIndex{
		source:  source,
		pattern: regexp.MustCompile(`(?s)` + regexp.QuoteMeta(marker) + `\s*=\s*(\{.*\});`),
	}
}

// Lookup builds the index if needed and returns the URL for name.
func (ix *NameIndex) Lookup(ctx context.Context, name string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.built {
		entries, err := ix.build(ctx)
		if err != nil {
			log.Printf("Name index unavailable, image fallback disabled for this run: %v", err)
		}
		ix.entries = entries
		ix.built = true
	}

	url, ok := ix.entries[NormalizeName(name)]
	return url, ok
}

// Len reports the number of indexed names, or -1 before the first Lookup.
func (ix *NameIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.built {
		return -1
	}
	return len(ix.entries)
}

func (ix *NameIndex) build(ctx context.Context) (map[string]string, error) {
	entries := map[string]string{}
	if ix.source == nil {
		return entries, fmt.Errorf("no page source")
	}

	html, err := ix.source(ctx)
	if err != nil {
		return entries, fmt.Errorf("read page: %w", err)
	}

	state, err := ix.extractState(html)
	if err != nil {
		return entries, err
	}

	for _, e := range state {
		obj, ok := e.value.(map[string]interface{})
		if !ok {
			continue
		}
		first, _ := obj["first_name"].(string)
		if first == "" {
			continue
		}
		url := pictureURL(obj)
		if url == "" {
			continue
		}
		// a later user with the same first name replaces an earlier one
		entries[NormalizeName(first)] = url
	}
	return entries, nil
}

type stateEntry struct {
	key   string
	value interface{}
}

// extractState finds the script that assigns the state blob and decodes its
// top-level entries in document order.
func (ix *NameIndex) extractState(html string) ([]stateEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var raw string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := ix.pattern.FindStringSubmatch(s.Text()); m != nil {
			raw = m[1]
			return false
		}
		return true
	})
	if raw == "" {
		return nil, fmt.Errorf("state script not found")
	}

	if state, err := decodeOrdered([]byte(raw)); err == nil {
		return state, nil
	}

	// json5 only decodes into a map, so lenient blobs fall back to key order.
	var state map[string]interface{}
	if err := json5.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]stateEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, stateEntry{key: k, value: state[k]})
	}
	return entries, nil
}

func decodeOrdered(raw []byte) ([]stateEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("state is not an object")
	}

	var entries []stateEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, stateEntry{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

// pictureURL accepts profile_picture or picture_url, either as a URL string
// or as an object with a "picture" field.
func pictureURL(obj map[string]interface{}) string {
	for _, key := range []string{"profile_picture", "picture_url"} {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}:
			if p, _ := v["picture"].(string); p != "" {
				return p
			}
		}
	}
	return ""
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
