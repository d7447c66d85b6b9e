package ffmpeg

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// VideoInfo is what the extractor needs to know before decoding.
type VideoInfo struct {
	Width    int
	Height   int
	Duration float64
}

type sideData struct {
	Rotation float64 `json:"rotation"`
}

type probeOutput struct {
	Streams []struct {
		CodecType    string            `json:"codec_type"`
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		Tags         map[string]string `json:"tags"`
		SideDataList []sideData        `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path and returns the first video stream's display size.
func Probe(path string) (*VideoInfo, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, err
	}
	return parseProbe(raw)
}

func parseProbe(raw string) (*VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return nil, fmt.Errorf("video stream has invalid size %dx%d", s.Width, s.Height)
		}

		info := &VideoInfo{Width: s.Width, Height: s.Height}
		// ffmpeg autorotates on decode, so a quarter turn swaps the output size.
		if quarterTurn(s.Tags["rotate"], s.SideDataList) {
			info.Width, info.Height = info.Height, info.Width
		}
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.Duration = d
		}
		return info, nil
	}
	return nil, fmt.Errorf("no video stream")
}

func quarterTurn(tag string, side []sideData) bool {
	rotation := 0.0
	if v, err := strconv.ParseFloat(tag, 64); err == nil {
		rotation = v
	}
	for _, sd := range side {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	return math.Mod(math.Abs(rotation), 180) == 90
}
