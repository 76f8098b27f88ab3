package entity

// Token is one recognized word with its engine confidence on a 0-100 scale.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// FrameReading is the filtered text of one sampled frame. Text is never empty.
type FrameReading struct {
	FrameIndex  int     `json:"frame_index"`
	TimestampMs int64   `json:"timestamp_ms"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
}

// Segment is a merged run of similar consecutive readings.
type Segment struct {
	StartMs      int64   `json:"start_ms"`
	EndMs        int64   `json:"end_ms"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	ReadingCount int     `json:"reading_count"`
}
