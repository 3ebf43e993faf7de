package post

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/session"
)

const articleHTML = `
<article data-testid="tweet">
  <div data-testid="User-Name">
    <a href="/gopher"><span>Gopher</span></a>
    <a href="/gopher"><span>@gopher</span></a>
    <span>·</span>
  </div>
  <div data-testid="tweetText" lang="en"><span>Go 1.24   is out</span>
  <span>with generics aliases</span></div>
</article>`

func TestParseFromFields(t *testing.T) {
	rec, err := Parse(session.RawFragment{Text: "  hello\n world ", Author: " @alice "}, "golang")
	require.NoError(t, err)
	assert.Equal(t, Record{Text: "hello world", Author: "@alice", Keyword: "golang"}, rec)
}

func TestParseFromHTML(t *testing.T) {
	rec, err := Parse(session.RawFragment{HTML: articleHTML}, "golang")
	require.NoError(t, err)
	assert.Equal(t, "Go 1.24 is out with generics aliases", rec.Text)
	assert.Equal(t, "@gopher", rec.Author)
	assert.Equal(t, "golang", rec.Keyword)
}

func TestParseFieldsWinOverHTML(t *testing.T) {
	rec, err := Parse(session.RawFragment{HTML: articleHTML, Author: "@override"}, "golang")
	require.NoError(t, err)
	assert.Equal(t, "@override", rec.Author)
	assert.Equal(t, "Go 1.24 is out with generics aliases", rec.Text)
}

func TestParseFallsBackToLangDiv(t *testing.T) {
	html := `<div data-testid="tweet"><span>@bob</span><div lang="de">Hallo Welt</div></div>`
	rec, err := Parse(session.RawFragment{HTML: html}, "welt")
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", rec.Text)
	assert.Equal(t, "@bob", rec.Author)
}

func TestParseRejectsIncompleteFragments(t *testing.T) {
	tests := []struct {
		name string
		frag session.RawFragment
	}{
		{"empty", session.RawFragment{}},
		{"no author", session.RawFragment{Text: "words"}},
		{"no text", session.RawFragment{Author: "@a"}},
		{"html without handle", session.RawFragment{HTML: `<article><div lang="en">text</div></article>`}},
		{"html without text", session.RawFragment{HTML: `<article><span>@a</span></article>`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.frag, "k")
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrorTypeFragmentParse))
		})
	}
}

func TestSetDeduplicatesBeforeCounting(t *testing.T) {
	set := NewSet("golang", 3)

	added, dups := set.Add(
		Record{Text: "a", Author: "@x"},
		Record{Text: "a", Author: "@x"},
		Record{Text: "a", Author: "@y"},
	)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, set.Remaining())

	added, _ = set.Add(Record{Text: "b", Author: "@x"}, Record{Text: "c", Author: "@x"})
	assert.Equal(t, 1, added, "never exceeds the target")
	assert.True(t, set.Full())
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 0, set.Remaining())

	for _, r := range set.Records() {
		assert.Equal(t, "golang", r.Keyword)
	}
}

func TestSetSeed(t *testing.T) {
	seed := []Record{{Text: "a", Author: "@x"}, {Text: "a", Author: "@x"}}
	set := NewSet("golang", 5, seed...)
	assert.Equal(t, 1, set.Len())

	_, dups := set.Add(Record{Text: "a", Author: "@x"})
	assert.Equal(t, 1, dups)
}
