package extraction_engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Structa/internal/core/strategy"
)

// Result pairs a job with what became of it. Exactly one of Outcome and Err
// is set.
type Result struct {
	Job     Job
	Outcome *Outcome
	Err     error
}

// Jobs crosses one document with several strategies.
func Jobs(doc Document, options []strategy.Options) []Job {
	jobs := make([]Job, len(options))
	for i, opts := range options {
		jobs[i] = Job{Document: doc, Options: opts}
	}
	return jobs
}

// RunStrategies runs doc through each strategy back to back. A failed run
// does not stop the ones after it.
func (p *Pipeline) RunStrategies(ctx context.Context, doc Document, options []strategy.Options) []Result {
	results := make([]Result, 0, len(options))
	for _, job := range Jobs(doc, options) {
		out, err := p.Run(ctx, job)
		results = append(results, Result{Job: job, Outcome: out, Err: err})
	}
	return results
}

// RunAll runs jobs with at most workers in flight. Runs are independent: one
// failing never cancels another. Results keep the order of jobs.
func (p *Pipeline) RunAll(ctx context.Context, jobs []Job, workers int) []Result {
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, job := range jobs {
		g.Go(func() error {
			out, err := p.Run(ctx, job)
			results[i] = Result{Job: job, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Errors joins the errors of failed results, or returns nil.
func Errors(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
