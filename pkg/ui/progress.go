package ui

import (
	"fmt"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"xscraper/pkg/scraper"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker follows keywords as they finish
type StatusTracker struct {
	mu        sync.Mutex
	total     int
	finished  int
	records   int
	aborted   int
	StartTime time.Time
}

// NewStatusTracker creates a tracker for a run of total keywords
func NewStatusTracker(total int) *StatusTracker {
	return &StatusTracker{total: total, StartTime: time.Now()}
}

// Observe records a finished keyword and prints a progress line
func (st *StatusTracker) Observe(res scraper.KeywordResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.finished++
	st.records += len(res.Records)
	if res.Outcome == scraper.Aborted {
		st.aborted++
	}

	status := Green("[SATISFIED]")
	if res.Outcome == scraper.Aborted {
		status = Yellow("[ABORTED]  ")
	}
	fmt.Fprintf(Out, "%s %s %s %d/%d posts\n",
		status,
		st.progressBar(),
		Cyan(res.Keyword),
		len(res.Records),
		res.Target)
}

func (st *StatusTracker) progressBar() string {
	const width = 20
	filled := 0
	if st.total > 0 {
		filled = st.finished * width / st.total
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, st.finished, st.total)
}

// Records returns the number of posts collected so far
func (st *StatusTracker) Records() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.records
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return time.Since(st.StartTime)
}

// PrintSummary prints one row per keyword and the totals
func PrintSummary(report *scraper.Report) {
	tw := tabwriter.NewWriter(Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tOUTCOME\tPOSTS\tATTEMPTS\tFAILURES\tREASON")
	for _, kr := range report.Keywords {
		reason := string(kr.Reason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			kr.Keyword, kr.Outcome, len(kr.Records), kr.Target, kr.Attempts, kr.Failures, reason)
	}
	tw.Flush()

	fmt.Fprintf(Out, "\n%s %d/%d keywords satisfied, %d posts in %s\n",
		Magenta("[DONE]"),
		report.Count(scraper.Satisfied),
		len(report.Keywords),
		report.Total(),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
}
