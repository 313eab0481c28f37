package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart   Stage = "CRAWL_START"
	StageFetchAttempt Stage = "FETCH_ATTEMPT"
	StageFetchRetry   Stage = "FETCH_RETRY"
	StageFetchDone    Stage = "FETCH_DONE"
	StagePageVisited  Stage = "PAGE_VISITED"
	StageCrawlDone    Stage = "CRAWL_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a crawl.
type Event struct {
	// CrawlID identifies the crawl run using the 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host the event concerns; empty for crawl-level events.
	Site string
	URL  string
	// Attempt is the 1-based attempt number for fetch events.
	Attempt     int
	StatusCode  int
	StatusClass StatusClass
	// Result is the page status for PAGE_VISITED and the stop reason for
	// CRAWL_DONE.
	Result string
	Bytes  int64
	// Pages is the number of pages emitted, set on CRAWL_DONE.
	Pages int64
	// Dur is the fetch latency, retry delay, or crawl runtime.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart:
	case StageCrawlDone:
		if e.Result == "" {
			return errors.New("crawl done requires a stop reason")
		}
	case StageFetchAttempt, StageFetchRetry, StagePageVisited:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID to uuid.UUID for repositories.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
