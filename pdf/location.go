package pdf

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// PageResolver turns one grammar of veraPDF location descriptor into a
// 1-based page number.
type PageResolver interface {
	Match(descriptor string) bool
	Resolve(descriptor string) (page int, ok bool)
}

// resolvers are tried in order; the first one that matches decides.
var resolvers = []PageResolver{
	streamOperatorResolver{},
	structTreeResolver{},
	pageRangeResolver{},
	bboxJSONResolver{},
}

// ResolvePageNumber returns the page a descriptor points at. Descriptors no
// grammar understands report ok == false and are treated as document-level.
func ResolvePageNumber(descriptor string) (int, bool) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return 0, false
	}
	for _, r := range resolvers {
		if r.Match(descriptor) {
			return r.Resolve(descriptor)
		}
	}
	return 0, false
}

var bracketIndex = regexp.MustCompile(`\[(\d+)`)

// stepIndex returns the first bracketed integer of a path step such as
// "pages[3](12 0 obj PDPage)".
func stepIndex(step string) (int, bool) {
	m := bracketIndex.FindStringSubmatch(step)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// streamOperatorResolver handles
// root/document[0]/pages[2](...)/contentStream[0]/operators[14]/usedGlyphs[0](...).
type streamOperatorResolver struct{}

func (streamOperatorResolver) Match(d string) bool {
	return strings.Contains(d, "contentStream") && strings.Contains(d, "operators")
}

func (streamOperatorResolver) Resolve(d string) (int, bool) {
	page, operator, glyph := -1, -1, -1
	for _, step := range strings.Split(d, "/") {
		n, ok := stepIndex(step)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(step, "pages"):
			page = n
		case strings.HasPrefix(step, "operators"):
			operator = n
		case strings.HasPrefix(step, "usedGlyphs"):
			glyph = n
		}
	}
	if page < 0 || operator < 0 || glyph < 0 {
		return 0, false
	}
	return page + 1, true
}

// structTreeResolver handles paths rooted in the document or its structure
// tree. Only paths that pass through a page (content items, annotations,
// the page itself) can be placed; pure structure-element paths cannot
// without the rendered structure and stay document-level.
type structTreeResolver struct{}

func (structTreeResolver) Match(d string) bool {
	return strings.Contains(d, "StructTreeRoot") || strings.Contains(d, "root/doc") || d == "root"
}

func (structTreeResolver) Resolve(d string) (int, bool) {
	if strings.Contains(d, "StructTreeRoot") {
		return 0, false
	}
	page := -1
	for _, step := range strings.Split(d, "/") {
		if !strings.HasPrefix(step, "pages[") {
			continue
		}
		if n, ok := stepIndex(step); ok {
			page = n
		}
	}
	if page < 0 {
		return 0, false
	}
	return page + 1, true
}

var pageRangePattern = regexp.MustCompile(`pages\[(\d+)(?:-(\d+))?\]`)

// pageRangeResolver handles pages[3]/boundingBox[...] and
// pages[3-5]/boundingBox[...]; a range resolves to its first page.
type pageRangeResolver struct{}

func (pageRangeResolver) Match(d string) bool {
	return strings.Contains(d, "pages[")
}

func (pageRangeResolver) Resolve(d string) (int, bool) {
	m := pageRangePattern.FindStringSubmatch(d)
	if m == nil {
		return 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return start + 1, true
}

// bboxJSONResolver handles {"bbox":[{"p":0,"rect":[x,y,x1,y1]}]}.
type bboxJSONResolver struct{}

func (bboxJSONResolver) Match(d string) bool {
	return strings.HasPrefix(d, "{")
}

func (bboxJSONResolver) Resolve(d string) (int, bool) {
	var loc struct {
		BBox []struct {
			P    float64   `json:"p"`
			Rect []float64 `json:"rect"`
		} `json:"bbox"`
	}
	if err := json.Unmarshal([]byte(d), &loc); err != nil || len(loc.BBox) == 0 {
		return 0, false
	}
	return int(loc.BBox[0].P) + 1, true
}
