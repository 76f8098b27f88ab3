package ocr

import (
	"math/rand"
	"testing"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(ts int64, text string, conf float64) entity.FrameReading {
	return entity.FrameReading{TimestampMs: ts, Text: text, Confidence: conf}
}

func TestAggregateEmptyStream(t *testing.T) {
	segs := Aggregate(nil, 0.6)
	require.NotNil(t, segs)
	assert.Empty(t, segs)
}

func TestAggregateSingleReading(t *testing.T) {
	segs := Aggregate([]entity.FrameReading{reading(1500, "CAPTION", 77)}, 0.6)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(1500), segs[0].StartMs)
	assert.Equal(t, int64(1500), segs[0].EndMs)
	assert.Equal(t, "CAPTION", segs[0].Text)
	assert.Equal(t, 77.0, segs[0].Confidence)
	assert.Equal(t, 1, segs[0].ReadingCount)
}

func TestAggregateHelloGoodbye(t *testing.T) {
	segs := Aggregate([]entity.FrameReading{
		reading(0, "HELLO WORLD", 80),
		reading(1000, "HELLO WORLD", 85),
		reading(2000, "GOODBYE", 90),
	}, 0.6)

	require.Len(t, segs, 2)
	assert.Equal(t, entity.Segment{StartMs: 0, EndMs: 1000, Text: "HELLO WORLD", Confidence: 82.5, ReadingCount: 2}, segs[0])
	assert.Equal(t, entity.Segment{StartMs: 2000, EndMs: 2000, Text: "GOODBYE", Confidence: 90, ReadingCount: 1}, segs[1])
}

func TestAggregateIdenticalTextCollapses(t *testing.T) {
	confs := []float64{61, 70, 93, 88, 42}
	var readings []entity.FrameReading
	var sum float64
	for i, c := range confs {
		readings = append(readings, reading(int64(i*1000), "BREAKING NEWS", c))
		sum += c
	}

	segs := Aggregate(readings, 0.6)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].StartMs)
	assert.Equal(t, int64(4000), segs[0].EndMs)
	assert.InDelta(t, sum/float64(len(confs)), segs[0].Confidence, 1e-9)
}

func TestAggregateShorterSimilarReadingKeepsRepresentative(t *testing.T) {
	segs := Aggregate([]entity.FrameReading{
		reading(0, "HELLO WORLD", 80),
		reading(1000, "HELLO WORL", 60),
	}, 0.6)

	require.Len(t, segs, 1)
	assert.Equal(t, "HELLO WORLD", segs[0].Text)
	assert.Equal(t, int64(1000), segs[0].EndMs)
	assert.Equal(t, 70.0, segs[0].Confidence)
}

func TestAggregateLongerSimilarReadingBecomesRepresentative(t *testing.T) {
	segs := Aggregate([]entity.FrameReading{
		reading(0, "HELLO WORL", 60),
		reading(1000, "HELLO WORLD", 80),
	}, 0.6)

	require.Len(t, segs, 1)
	assert.Equal(t, "HELLO WORLD", segs[0].Text)
}

func TestAggregateComparesAgainstRepresentativeNotPrevious(t *testing.T) {
	// the noisy middle reading is similar enough to merge, and the third reading
	// is compared with the stable caption rather than with the noise.
	segs := Aggregate([]entity.FrameReading{
		reading(0, "SUBSCRIBE NOW", 90),
		reading(1000, "SUBSCR1BE N0W", 50),
		reading(2000, "SUBSCRIBE NOW", 90),
	}, 0.6)

	require.Len(t, segs, 1)
	assert.Equal(t, int64(2000), segs[0].EndMs)
	assert.Equal(t, 3, segs[0].ReadingCount)
}

func TestAggregateSimilarityExactlyAtThresholdSplits(t *testing.T) {
	require.Equal(t, 0.6, Similarity("ABCDE", "ABCXY"))

	segs := Aggregate([]entity.FrameReading{
		reading(0, "ABCDE", 50),
		reading(1000, "ABCXY", 50),
	}, 0.6)
	assert.Len(t, segs, 2)

	segs = Aggregate([]entity.FrameReading{
		reading(0, "ABCDE", 50),
		reading(1000, "ABCXY", 50),
	}, 0.59999)
	assert.Len(t, segs, 1)
}

func TestAggregatorMergeIsStrict(t *testing.T) {
	agg := NewAggregator(0.6)
	assert.False(t, agg.merges(0.6))
	assert.True(t, agg.merges(0.60001))
	assert.False(t, agg.merges(0.2))
}

func TestAggregateConfidenceIsPerReading(t *testing.T) {
	// a reading built from many tokens weighs the same as a single-token one.
	segs := Aggregate([]entity.FrameReading{
		reading(0, "ONE TWO THREE FOUR", 100),
		reading(1000, "ONE TWO THREE FOUR", 50),
	}, 0.6)
	require.Len(t, segs, 1)
	assert.Equal(t, 75.0, segs[0].Confidence)
}

func TestAggregatorFlushResets(t *testing.T) {
	agg := NewAggregator(0.6)
	agg.Add(reading(0, "FIRST", 50))
	require.Len(t, agg.Flush(), 1)
	assert.Empty(t, agg.Flush())
}

func TestAggregateSegmentsAreOrderedAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	captions := []string{"OPENING TITLE", "CHAPTER ONE", "THE END", "CREDITS ROLL", "X"}

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(60)
		readings := make([]entity.FrameReading, n)
		var ts int64
		for i := range readings {
			ts += int64(1 + rng.Intn(2000))
			readings[i] = reading(ts, captions[rng.Intn(len(captions))], float64(41+rng.Intn(59)))
		}

		segs := Aggregate(readings, 0.6)
		require.NotEmpty(t, segs)

		total := 0
		for i, s := range segs {
			assert.LessOrEqual(t, s.StartMs, s.EndMs)
			if i > 0 {
				assert.Greater(t, s.StartMs, segs[i-1].EndMs)
			}
			total += s.ReadingCount
		}
		assert.Equal(t, n, total)
		assert.Equal(t, readings[0].TimestampMs, segs[0].StartMs)
		assert.Equal(t, readings[n-1].TimestampMs, segs[len(segs)-1].EndMs)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("same", "same"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 1-1.0/11, Similarity("Hello World", "Hello Worl"), 1e-9)
	assert.Less(t, Similarity("hello", "HELLO"), 1.0, "comparison is case-sensitive")
}

func TestSimilarityIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"HELLO WORLD", "GOODBYE"},
		{"kitten", "sitting"},
		{"", "abc"},
		{"Ünïcode", "Unicode"},
		{"SUBSCRIBE NOW", "SUBSCR1BE N0W"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}
