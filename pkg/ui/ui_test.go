package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"xscraper/pkg/post"
	"xscraper/pkg/scraper"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevColor := Out, colorEnabled
	Out = &buf
	SetColor(false)
	t.Cleanup(func() {
		Out = prevOut
		colorEnabled = prevColor
	})
	return &buf
}

func TestStatusTracker(t *testing.T) {
	buf := capture(t)

	st := NewStatusTracker(2)
	st.Observe(scraper.KeywordResult{
		Keyword: "go",
		Target:  2,
		Outcome: scraper.Satisfied,
		Records: []post.Record{{Text: "a", Author: "@a"}, {Text: "b", Author: "@b"}},
	})
	st.Observe(scraper.KeywordResult{Keyword: "rust", Target: 2, Outcome: scraper.Aborted})

	out := buf.String()
	if !strings.Contains(out, "[SATISFIED] [██████████░░░░░░░░░░] 1/2 go 2/2 posts") {
		t.Errorf("Unexpected first line:\n%s", out)
	}
	if !strings.Contains(out, "[ABORTED]") || !strings.Contains(out, "2/2 rust 0/2 posts") {
		t.Errorf("Unexpected second line:\n%s", out)
	}
	if st.Records() != 2 {
		t.Errorf("Expected 2 records, got %d", st.Records())
	}
}

func TestPrintSummary(t *testing.T) {
	buf := capture(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	PrintSummary(&scraper.Report{
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Keywords: []scraper.KeywordResult{
			{Keyword: "go", Target: 1, Outcome: scraper.Satisfied, Records: []post.Record{{Text: "a", Author: "@a"}}, Attempts: 1},
			{Keyword: "rust", Target: 1, Outcome: scraper.Aborted, Reason: scraper.ReasonFailureBudget, Attempts: 4, Failures: 4},
		},
	})

	out := buf.String()
	for _, want := range []string{"KEYWORD", "failure_budget_exhausted", "1/2 keywords satisfied, 1 posts in 1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}
}

func TestColorToggle(t *testing.T) {
	capture(t)
	if Red("x") != "x" {
		t.Error("Colors should be off")
	}
	SetColor(true)
	if Red("x") != "\033[31mx\033[0m" {
		t.Error("Colors should be on")
	}
}
