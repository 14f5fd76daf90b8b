package scheduler

import (
	"fmt"
	"panda/models"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Result is the outcome class of one feed pipeline
type Result string

const (
	ResultSuccess     Result = "success"
	ResultNotModified Result = "not_modified"
	ResultFailed      Result = "failed"
	ResultPermanent   Result = "permanent_error"
	// The pipeline was cancelled and left the registry untouched
	ResultCancelled Result = "cancelled"
)

// Outcome describes what happened to one feed
type Outcome struct {
	FeedID   int64             `json:"feedId"`
	Url      string            `json:"url"`
	Result   Result            `json:"result"`
	Stats    models.MergeStats `json:"stats"`
	Interval time.Duration     `json:"interval"`
	Error    string            `json:"error,omitempty"`

	err error
}

func (o Outcome) Err() error {
	return o.err
}

// Report summarizes one scheduling cycle. Failures of individual feeds are
// collected, they never abort the cycle.
type Report struct {
	Due         int               `json:"due"`
	Skipped     int               `json:"skipped"`
	Succeeded   int               `json:"succeeded"`
	NotModified int               `json:"notModified"`
	Failed      int               `json:"failed"`
	Cancelled   int               `json:"cancelled"`
	Stats       models.MergeStats `json:"stats"`
	Outcomes    []Outcome         `json:"outcomes"`
	Took        time.Duration     `json:"took"`

	mu   sync.Mutex
	errs *multierror.Error
}

// ReportOf builds the report of a run that processed exactly these outcomes
func ReportOf(took time.Duration, outcomes ...Outcome) *Report {
	r := &Report{Due: len(outcomes), Took: took}
	for _, o := range outcomes {
		r.add(o)
	}
	return r
}

func (r *Report) add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Outcomes = append(r.Outcomes, o)
	r.Stats.Combine(o.Stats)
	switch o.Result {
	case ResultSuccess:
		r.Succeeded++
	case ResultNotModified:
		r.NotModified++
	case ResultCancelled:
		r.Cancelled++
	default:
		r.Failed++
	}
	if o.err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("feed %d (%s): %w", o.FeedID, o.Url, o.err))
	}
}

func (r *Report) skip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped++
}

// ErrorOrNil returns every per-feed error of the cycle as one error
func (r *Report) ErrorOrNil() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs.ErrorOrNil()
}
