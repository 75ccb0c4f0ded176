package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"review_scrooper/models"
)

// Patterns are the site-specific markers the parser keys on. Regex fields
// are Go RE2 syntax.
type Patterns struct {
	// RatedMarker splits a rated review into header and body.
	RatedMarker string
	// Tenure matches the "N years on Airbnb" phrase that ends the header.
	Tenure string
	// Rating is searched in the body; group 1 (or the whole match) is kept.
	Rating string
	// PostDate is searched in the body; group 1 is the "Month YYYY" value.
	PostDate string
	// Response marks the host reply. Group 1 is the reply text; everything
	// before the match is the guest comment.
	Response string
}

func DefaultPatterns() Patterns {
	return Patterns{
		RatedMarker: "Rating,",
		Tenure:      `\d+ years on Airbnb`,
		Rating:      `(\d+ stars)`,
		PostDate:    `· ([A-Za-z]+ \d{4}) ,`,
		Response:    `(?s)Response from .+?\d{4}\s+(.+)$`,
	}
}

// commentCutset is trimmed from both ends of the comment region.
const commentCutset = " ·,"

type Parser struct {
	marker   string
	tenure   *regexp.Regexp
	rating   *regexp.Regexp
	postDate *regexp.Regexp
	response *regexp.Regexp
	header   []headerAttempt
}

// New compiles the patterns once. An error here means the site
// configuration is broken.
func New(p Patterns) (*Parser, error) {
	if p.RatedMarker == "" {
		return nil, fmt.Errorf("rated marker is empty")
	}
	tenure, err := regexp.Compile(`^(.+?)(` + p.Tenure + `)`)
	if err != nil {
		return nil, fmt.Errorf("tenure pattern: %w", err)
	}
	rating, err := regexp.Compile(p.Rating)
	if err != nil {
		return nil, fmt.Errorf("rating pattern: %w", err)
	}
	postDate, err := regexp.Compile(p.PostDate)
	if err != nil {
		return nil, fmt.Errorf("post date pattern: %w", err)
	}
	if postDate.NumSubexp() < 1 {
		return nil, fmt.Errorf("post date pattern needs a capture group")
	}
	response, err := regexp.Compile(p.Response)
	if err != nil {
		return nil, fmt.Errorf("response pattern: %w", err)
	}
	if response.NumSubexp() < 1 {
		return nil, fmt.Errorf("response pattern needs a capture group")
	}

	ps := &Parser{
		marker:   p.RatedMarker,
		tenure:   tenure,
		rating:   rating,
		postDate: postDate,
		response: response,
	}
	ps.header = []headerAttempt{ps.headerByTenure, headerBySplit}
	return ps, nil
}

// MustDefault returns a parser for DefaultPatterns.
func MustDefault() *Parser {
	p, err := New(DefaultPatterns())
	if err != nil {
		panic(err)
	}
	return p
}

// Result is the parsed review text plus a per-field trace of which
// extraction tier produced each value.
type Result struct {
	Fields models.ReviewFields
	Shape  Shape
	Trace  []Attempt
}

// Outcome returns the traced outcome for field, or Absent when the field
// was never attempted.
func (r Result) Outcome(field Field) Outcome {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i].Field == field {
			return r.Trace[i].Outcome
		}
	}
	return Absent
}

// Parse never fails: input without recognizable structure degrades to a
// review that only carries a comment.
func (p *Parser) Parse(text string) Result {
	res := Result{}
	var region string

	if head, body, ok := strings.Cut(text, p.marker); ok {
		res.Shape = ShapeRated
		p.parseHeader(strings.TrimSpace(head), &res)
		p.parseRating(body, &res)
		region = p.parseDate(body, &res)
	} else {
		res.Shape = ShapeSimple
		region = p.parseSimple(text, &res)
	}

	p.parseResponse(region, &res)
	return res
}

func (p *Parser) parseHeader(head string, res *Result) {
	for i, attempt := range p.header {
		user, tenure, ok := attempt(head)
		if !ok {
			continue
		}
		outcome := Matched
		if i > 0 {
			outcome = Fallback
		}
		res.Fields.Username = user
		res.Fields.TimeInAirbnb = tenure
		res.trace(FieldUsername, outcomeOf(user, outcome))
		res.trace(FieldTenure, outcomeOf(tenure, outcome))
		return
	}
	res.trace(FieldUsername, Absent)
	res.trace(FieldTenure, Absent)
}

// headerAttempt returns ok=false to hand over to the next tier.
type headerAttempt func(head string) (user, tenure *string, ok bool)

func (p *Parser) headerByTenure(head string) (*string, *string, bool) {
	m := p.tenure.FindStringSubmatch(head)
	if m == nil {
		return nil, nil, false
	}
	return models.StringPtr(strings.TrimSpace(m[1])), models.StringPtr(strings.TrimSpace(m[2])), true
}

func headerBySplit(head string) (*string, *string, bool) {
	tokens := strings.Fields(head)
	switch len(tokens) {
	case 0:
		return nil, nil, true
	case 1:
		return &tokens[0], nil, true
	default:
		return &tokens[0], models.StringPtr(strings.Join(tokens[1:], " ")), true
	}
}

func (p *Parser) parseRating(body string, res *Result) {
	m := p.rating.FindStringSubmatch(body)
	if m == nil {
		res.trace(FieldRating, Absent)
		return
	}
	val := m[0]
	if len(m) > 1 && m[1] != "" {
		val = m[1]
	}
	res.Fields.Rating = models.StringPtr(val)
	res.trace(FieldRating, Matched)
}

// parseDate records the post date and returns the comment region that
// follows it, or the whole body when no date was found.
func (p *Parser) parseDate(body string, res *Result) string {
	loc := p.postDate.FindStringSubmatchIndex(body)
	if loc == nil || loc[2] < 0 {
		res.trace(FieldPostTime, Absent)
		return strings.Trim(body, commentCutset)
	}
	res.Fields.PostTime = models.StringPtr(body[loc[2]:loc[3]])
	res.trace(FieldPostTime, Matched)
	return strings.Trim(body[loc[1]:], commentCutset)
}

func (p *Parser) parseSimple(text string, res *Result) string {
	text = strings.TrimSpace(text)
	cut := strings.IndexFunc(text, unicode.IsSpace)
	if cut < 0 {
		res.Fields.Username = models.StringPtr(text)
		res.trace(FieldUsername, outcomeOf(res.Fields.Username, Fallback))
		return ""
	}
	res.Fields.Username = models.StringPtr(text[:cut])
	res.trace(FieldUsername, Fallback)
	return strings.TrimLeftFunc(text[cut:], unicode.IsSpace)
}

func (p *Parser) parseResponse(region string, res *Result) {
	loc := p.response.FindStringSubmatchIndex(region)
	if loc == nil || loc[2] < 0 {
		res.Fields.Comment = strings.TrimSpace(region)
		res.trace(FieldResponse, Absent)
		return
	}
	res.Fields.Comment = strings.TrimSpace(region[:loc[0]])
	res.Fields.Response = models.StringPtr(strings.TrimSpace(region[loc[2]:loc[3]]))
	res.trace(FieldResponse, outcomeOf(res.Fields.Response, Matched))
}

func outcomeOf(v *string, o Outcome) Outcome {
	if v == nil {
		return Absent
	}
	return o
}
