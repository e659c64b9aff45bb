package batch

import (
	"sync"
)

// ItemError is a failed target and its error message.
type ItemError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Details itemizes the summary counts.
type Details struct {
	Added   []string    `json:"added"`
	Updated []string    `json:"updated"`
	Skipped []string    `json:"skipped"`
	Errors  []ItemError `json:"errors"`
}

// Summary accumulates the results of one run. It is safe for concurrent use.
type Summary struct {
	mu sync.Mutex

	Crawled int     `json:"crawled"`
	Added   int     `json:"added"`
	Updated int     `json:"updated"`
	Skipped int     `json:"skipped"`
	Errors  int     `json:"errors"`
	Details Details `json:"details"`
}

// Record counts a processed target under outcome. Unknown outcomes count as
// skipped.
func (s *Summary) Record(name string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Crawled++
	switch outcome {
	case OutcomeAdded:
		s.Added++
		s.Details.Added = append(s.Details.Added, name)
	case OutcomeUpdated:
		s.Updated++
		s.Details.Updated = append(s.Details.Updated, name)
	default:
		s.Skipped++
		s.Details.Skipped = append(s.Details.Skipped, name)
	}
}

// Fail counts a failed target.
func (s *Summary) Fail(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Crawled++
	s.Errors++
	s.Details.Errors = append(s.Details.Errors, ItemError{Name: name, Error: err.Error()})
}

// Note records a run-level error, such as a failed listing page, without
// counting a crawled target.
func (s *Summary) Note(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
	s.Details.Errors = append(s.Details.Errors, ItemError{Name: name, Error: err.Error()})
}

// Merge adds the counts and details of other into s.
func (s *Summary) Merge(other *Summary) {
	if other == nil || other == s {
		return
	}
	other.mu.Lock()
	o := Details{
		Added:   append([]string(nil), other.Details.Added...),
		Updated: append([]string(nil), other.Details.Updated...),
		Skipped: append([]string(nil), other.Details.Skipped...),
		Errors:  append([]ItemError(nil), other.Details.Errors...),
	}
	crawled, added, updated, skipped, errs := other.Crawled, other.Added, other.Updated, other.Skipped, other.Errors
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Crawled += crawled
	s.Added += added
	s.Updated += updated
	s.Skipped += skipped
	s.Errors += errs
	s.Details.Added = append(s.Details.Added, o.Added...)
	s.Details.Updated = append(s.Details.Updated, o.Updated...)
	s.Details.Skipped = append(s.Details.Skipped, o.Skipped...)
	s.Details.Errors = append(s.Details.Errors, o.Errors...)
}
