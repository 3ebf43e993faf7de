// Package post turns raw fragments scraped from a results page into
// validated records and tracks which records a keyword already holds.
package post

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/session"
)

// Record is one validated post attributed to the keyword that found it
type Record struct {
	Text    string `json:"text" bson:"text"`
	Author  string `json:"author" bson:"author"`
	Keyword string `json:"keyword" bson:"keyword"`
}

// Key is the identity of a record within its keyword
type Key struct {
	Text   string
	Author string
}

// Key returns the deduplication key
func (r Record) Key() Key {
	return Key{Text: r.Text, Author: r.Author}
}

// Parse validates a fragment. Fields captured directly by the runner win;
// missing ones are read from the fragment HTML. A fragment without both
// text and author is a fragment parse error.
func Parse(frag session.RawFragment, keyword string) (Record, error) {
	text := normalizeSpace(frag.Text)
	author := strings.TrimSpace(frag.Author)

	if (text == "" || author == "") && strings.TrimSpace(frag.HTML) != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(frag.HTML))
		if err != nil {
			return Record{}, errs.Wrap(errs.ErrorTypeFragmentParse, err, "read fragment html")
		}
		if text == "" {
			text = normalizeSpace(doc.Find(PostText).First().Text())
		}
		if author == "" {
			author = findHandle(doc.Selection)
		}
	}

	switch {
	case text == "" && author == "":
		return Record{}, errs.FragmentParse("fragment has neither text nor author")
	case text == "":
		return Record{}, errs.FragmentParse("fragment by %s has no text", author)
	case author == "":
		return Record{}, errs.FragmentParse("fragment has no author")
	}

	return Record{Text: text, Author: author, Keyword: keyword}, nil
}

// findHandle returns the first "@handle" inside the author box, falling back to any span
func findHandle(root *goquery.Selection) string {
	scopes := []*goquery.Selection{root.Find(PostAuthorBox), root}
	for _, scope := range scopes {
		var handle string
		scope.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := strings.TrimSpace(s.Text())
			if strings.HasPrefix(t, "@") && !strings.ContainsAny(t, " \n\t") && len(t) > 1 {
				handle = t
				return false
			}
			return true
		})
		if handle != "" {
			return handle
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Set accumulates unique records for one keyword up to a fixed target
type Set struct {
	keyword string
	target  int
	records []Record
	seen    map[Key]struct{}
}

// NewSet creates an empty set. Seed records are added first, subject to the same rules.
func NewSet(keyword string, target int, seed ...Record) *Set {
	s := &Set{keyword: keyword, target: target, seen: make(map[Key]struct{})}
	s.Add(seed...)
	return s
}

// Add appends records that are new, stopping at the target.
// It returns how many were added and how many were duplicates.
func (s *Set) Add(records ...Record) (added, duplicates int) {
	for _, r := range records {
		if s.Full() {
			break
		}
		k := r.Key()
		if _, dup := s.seen[k]; dup {
			duplicates++
			continue
		}
		s.seen[k] = struct{}{}
		r.Keyword = s.keyword
		s.records = append(s.records, r)
		added++
	}
	return added, duplicates
}

// Full reports whether the target has been reached
func (s *Set) Full() bool {
	return len(s.records) >= s.target
}

// Remaining is how many records are still wanted
func (s *Set) Remaining() int {
	if n := s.target - len(s.records); n > 0 {
		return n
	}
	return 0
}

// Len returns the number of records held
func (s *Set) Len() int {
	return len(s.records)
}

// Records returns a copy in insertion order
func (s *Set) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
