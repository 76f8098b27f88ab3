package ocr

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
)

// Similarity returns 1 - lev(a,b)/max(len(a), len(b), 1) over runes.
// The comparison is case-sensitive.
func Similarity(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// run is the open segment being extended.
type run struct {
	start   int64
	end     int64
	text    string
	textLen int
	confSum float64
	count   int
}

func newRun(r entity.FrameReading) run {
	return run{
		start:   r.TimestampMs,
		end:     r.TimestampMs,
		text:    r.Text,
		textLen: utf8.RuneCountInString(r.Text),
		confSum: r.Confidence,
		count:   1,
	}
}

func (r run) segment() entity.Segment {
	return entity.Segment{
		StartMs:      r.start,
		EndMs:        r.end,
		Text:         r.text,
		Confidence:   r.confSum / float64(r.count),
		ReadingCount: r.count,
	}
}

// Aggregator merges an ordered stream of readings into segments. Each reading is
// compared with the representative text of the open segment, not with the
// previous reading. The longest reading seen so far is kept as representative.
// An Aggregator serves a single task and is not safe for concurrent use.
type Aggregator struct {
	threshold float64
	open      bool
	current   run
	done      []entity.Segment
}

func NewAggregator(threshold float64) *Aggregator {
	return &Aggregator{threshold: threshold}
}

func (a *Aggregator) merges(sim float64) bool {
	return sim > a.threshold
}

// Add feeds the next reading.
func (a *Aggregator) Add(r entity.FrameReading) {
	if !a.open {
		a.current = newRun(r)
		a.open = true
		return
	}

	if !a.merges(Similarity(a.current.text, r.Text)) {
		a.done = append(a.done, a.current.segment())
		a.current = newRun(r)
		return
	}

	a.current.end = r.TimestampMs
	if n := utf8.RuneCountInString(r.Text); n > a.current.textLen {
		a.current.text = r.Text
		a.current.textLen = n
	}
	a.current.confSum += r.Confidence
	a.current.count++
}

// Flush closes the open segment and returns every segment in order. The
// aggregator is empty afterwards.
func (a *Aggregator) Flush() []entity.Segment {
	out := a.done
	if out == nil {
		out = []entity.Segment{}
	}
	if a.open {
		out = append(out, a.current.segment())
	}
	a.done = nil
	a.open = false
	a.current = run{}
	return out
}

// Aggregate is the batch form of Aggregator.
func Aggregate(readings []entity.FrameReading, threshold float64) []entity.Segment {
	agg := NewAggregator(threshold)
	for _, r := range readings {
		agg.Add(r)
	}
	return agg.Flush()
}
