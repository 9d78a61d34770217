// Package metrics standardises metric emission for job lifecycle events and
// pipeline counters.
package metrics

import (
	"time"

	obserrors "github.com/waiterbildung/course-advisor/internal/observability/errors"
	"github.com/waiterbildung/course-advisor/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ScrapeMetric captures per-run scrape pipeline counters.
type ScrapeMetric struct {
	TargetName     string
	PagesSucceeded int
	PagesFailed    int
	CoursesFound   int
	CourseUpserts  int
	EmbedsQueued   int
	Duration       time.Duration
}

// EmitScrapeRun emits counters for one scrape run.
func EmitScrapeRun(sink statsd.Sink, in ScrapeMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"target": in.TargetName}
	sink.Count("scrape.pages_succeeded", int64(in.PagesSucceeded), tags)
	sink.Count("scrape.pages_failed", int64(in.PagesFailed), tags)
	sink.Count("scrape.courses_found", int64(in.CoursesFound), tags)
	sink.Count("scrape.course_upserts", int64(in.CourseUpserts), tags)
	sink.Count("scrape.embeds_queued", int64(in.EmbedsQueued), tags)
	if in.Duration > 0 {
		sink.Timing("scrape.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
