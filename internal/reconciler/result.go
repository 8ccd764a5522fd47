package reconciler

import "time"

// CollectionResult aggregates one collection's pull or push outcome.
// Skipped counts pulled records left alone because the local copy is dirty.
type CollectionResult struct {
	Collection string
	Synced     int
	Failed     int
	Skipped    int
	Total      int
	Err        error
}

// OK reports whether the collection completed without failures.
func (r CollectionResult) OK() bool {
	return r.Err == nil && r.Failed == 0
}

// Result aggregates a full bidirectional pass.
type Result struct {
	StartedAt time.Time
	Duration  time.Duration
	Pull      []CollectionResult
	Push      []CollectionResult
}

// Success reports whether every collection completed without failures.
func (r *Result) Success() bool {
	for _, c := range r.Pull {
		if !c.OK() {
			return false
		}
	}
	for _, c := range r.Push {
		if !c.OK() {
			return false
		}
	}
	return true
}

// Synced totals successfully reconciled records across the pass.
func (r *Result) Synced() int {
	n := 0
	for _, c := range r.Pull {
		n += c.Synced
	}
	for _, c := range r.Push {
		n += c.Synced
	}
	return n
}

// Errors totals failed records across the pass, counting a collection-level
// failure as one.
func (r *Result) Errors() int {
	n := 0
	for _, c := range r.Pull {
		n += c.Failed
		if c.Err != nil {
			n++
		}
	}
	for _, c := range r.Push {
		n += c.Failed
		if c.Err != nil {
			n++
		}
	}
	return n
}
