package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Reporter turns crawler lifecycle callbacks into events on an Emitter.
type Reporter struct {
	id  [16]byte
	out Emitter
	now func() time.Time
}

var _ crawler.Observer = (*Reporter)(nil)

// NewReporter tags every event with crawlID.
func NewReporter(out Emitter, crawlID uuid.UUID) *Reporter {
	return &Reporter{
		id:  UUIDToBytes(crawlID),
		out: out,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.out == nil {
		return
	}
	evt.CrawlID = r.id
	evt.TS = r.now()
	r.out.Emit(evt)
}

// CrawlStarted implements crawler.Observer.
func (r *Reporter) CrawlStarted(seed crawler.Target) {
	r.emit(Event{Stage: StageCrawlStart, Site: seed.Origin().Host, URL: seed.String()})
}

// FetchAttempted implements crawler.Observer.
func (r *Reporter) FetchAttempted(t crawler.Target, attempt int) {
	r.emit(Event{Stage: StageFetchAttempt, Site: t.Origin().Host, URL: t.String(), Attempt: attempt})
}

// FetchRetried implements crawler.Observer.
func (r *Reporter) FetchRetried(t crawler.Target, attempt int, delay time.Duration, cause error) {
	evt := Event{Stage: StageFetchRetry, Site: t.Origin().Host, URL: t.String(), Attempt: attempt, Dur: delay}
	if cause != nil {
		evt.Note = cause.Error()
	}
	r.emit(evt)
}

// FetchFinished implements crawler.Observer.
func (r *Reporter) FetchFinished(t crawler.Target, statusCode int, bytes int, dur time.Duration) {
	r.emit(Event{
		Stage:       StageFetchDone,
		Site:        t.Origin().Host,
		URL:         t.String(),
		StatusCode:  statusCode,
		StatusClass: ClassifyStatus(statusCode),
		Bytes:       int64(bytes),
		Dur:         dur,
	})
}

// PageVisited implements crawler.Observer.
func (r *Reporter) PageVisited(res crawler.PageResult) {
	evt := Event{
		Stage:      StagePageVisited,
		Site:       res.Target.Origin().Host,
		URL:        res.Target.String(),
		Attempt:    res.Attempts,
		StatusCode: res.StatusCode,
		Result:     string(res.Status),
		Dur:        res.Duration,
	}
	if res.StatusCode != 0 {
		evt.StatusClass = ClassifyStatus(res.StatusCode)
	}
	if res.Err != nil {
		evt.Note = res.Err.Error()
	}
	r.emit(evt)
}

// CrawlFinished implements crawler.Observer.
func (r *Reporter) CrawlFinished(sum crawler.Summary) {
	r.emit(Event{
		Stage:  StageCrawlDone,
		URL:    sum.Seed,
		Result: string(sum.Reason),
		Pages:  int64(sum.Pages),
		Dur:    sum.Elapsed,
		Note:   string(sum.Outcome()),
	})
}
