package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// runner abstracts process execution so probing can be tested without ffprobe.
type runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// videoInfo describes the first video stream of a file.
type videoInfo struct {
	Width     int
	Height    int
	FrameRate float64
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func probe(ctx context.Context, r runner, ffprobePath, videoPath string) (videoInfo, error) {
	out, err := r.Output(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate",
		"-of", "json",
		videoPath,
	)
	if err != nil {
		return videoInfo{}, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (videoInfo, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return videoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return videoInfo{}, errors.New("no video stream")
	}
	st := parsed.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return videoInfo{}, fmt.Errorf("invalid frame size %dx%d", st.Width, st.Height)
	}

	// avg_frame_rate matches what ffmpeg emits for variable-rate files; r_frame_rate is
	// the fallback for containers that leave it at 0/0.
	fps := parseFrameRate(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(st.RFrameRate)
	}
	return videoInfo{Width: st.Width, Height: st.Height, FrameRate: fps}, nil
}

// parseFrameRate reads ffprobe rationals such as "30000/1001". It returns 0 for
// anything it cannot use.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}
