package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"xscraper/pkg/post"
)

// ResultSet maps keywords to records. Keyword order is insertion order.
type ResultSet struct {
	mu      sync.RWMutex
	order   []string
	records map[string][]post.Record
}

// NewResultSet creates a result set with an empty entry for every keyword
func NewResultSet(keywords ...string) *ResultSet {
	rs := &ResultSet{records: make(map[string][]post.Record)}
	for _, kw := range keywords {
		rs.ensure(kw)
	}
	return rs
}

func (rs *ResultSet) ensure(keyword string) {
	if _, ok := rs.records[keyword]; !ok {
		rs.order = append(rs.order, keyword)
		rs.records[keyword] = []post.Record{}
	}
}

// Put replaces the records stored for keyword
func (rs *ResultSet) Put(keyword string, records []post.Record) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.ensure(keyword)
	cp := make([]post.Record, len(records))
	copy(cp, records)
	rs.records[keyword] = cp
}

// Records returns a copy of the records for keyword
func (rs *ResultSet) Records(keyword string) []post.Record {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	src := rs.records[keyword]
	out := make([]post.Record, len(src))
	copy(out, src)
	return out
}

// Keywords returns keywords in order
func (rs *ResultSet) Keywords() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]string(nil), rs.order...)
}

// Total counts records across all keywords
func (rs *ResultSet) Total() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	n := 0
	for _, recs := range rs.records {
		n += len(recs)
	}
	return n
}

// MarshalJSON writes {"keyword": [{text, author, keyword}, ...], ...} with keys in order
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kw := range rs.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kw)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(rs.records[kw])
		if err != nil {
			return nil, fmt.Errorf("marshal records for %q: %w", kw, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form, preserving key order
func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("result set must be a JSON object")
	}

	fresh := NewResultSet()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		kw, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", tok)
		}
		var recs []post.Record
		if err := dec.Decode(&recs); err != nil {
			return fmt.Errorf("decode records for %q: %w", kw, err)
		}
		fresh.Put(kw, recs)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.order = fresh.order
	rs.records = fresh.records
	return nil
}
