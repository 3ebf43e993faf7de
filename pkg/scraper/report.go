package scraper

import (
	"time"

	"xscraper/pkg/post"
	"xscraper/pkg/storage"
)

// Outcome is the terminal state of a keyword
type Outcome string

const (
	Satisfied Outcome = "satisfied"
	Aborted   Outcome = "aborted"
)

// Reason explains an aborted keyword
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNoIdentity    Reason = "no_identity_available"
	ReasonFailureBudget Reason = "failure_budget_exhausted"
	ReasonStalled       Reason = "no_new_posts"
	ReasonCancelled     Reason = "cancelled"
)

// Request is the work for one keyword. Seed carries records collected by an earlier run.
type Request struct {
	Keyword string
	Target  int
	Seed    []post.Record
}

// KeywordResult is the outcome of one keyword
type KeywordResult struct {
	Keyword    string        `json:"keyword"`
	Target     int           `json:"target"`
	Outcome    Outcome       `json:"outcome"`
	Reason     Reason        `json:"reason,omitempty"`
	Records    []post.Record `json:"records"`
	Attempts   int           `json:"attempts"`
	Failures   int           `json:"failures"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Collected is the number of records kept
func (r KeywordResult) Collected() int {
	return len(r.Records)
}

// Report is the outcome of a whole run
type Report struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Keywords   []KeywordResult `json:"keywords"`
}

// ResultSet builds the keyword-to-records mapping in report order
func (r *Report) ResultSet() *storage.ResultSet {
	rs := storage.NewResultSet()
	for _, kr := range r.Keywords {
		rs.Put(kr.Keyword, kr.Records)
	}
	return rs
}

// Count returns how many keywords ended with the given outcome
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, kr := range r.Keywords {
		if kr.Outcome == o {
			n++
		}
	}
	return n
}

// Complete reports whether every keyword was satisfied
func (r *Report) Complete() bool {
	return r.Count(Satisfied) == len(r.Keywords)
}

// Total is the number of records across all keywords
func (r *Report) Total() int {
	n := 0
	for _, kr := range r.Keywords {
		n += len(kr.Records)
	}
	return n
}
