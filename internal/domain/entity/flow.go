package entity

import "fmt"

// Frame is one decoded still, persisted as an 8-bit RGB PNG.
// Index is the temporal position in the source video.
type Frame struct {
	Index int
	Path  string
}

// FramePair is two consecutive frames. Index is the index of First.
type FramePair struct {
	Index  int
	First  Frame
	Second Frame
}

// Padding describes the border added around an image to reach the flow model stride.
type Padding struct {
	Top    int
	Bottom int
	Left   int
	Right  int
}

func (p Padding) IsZero() bool {
	return p == Padding{}
}

// DisplacementField is a dense (dx, dy) map stored interleaved, row-major.
type DisplacementField struct {
	Width  int
	Height int
	Data   []float32
}

func NewDisplacementField(width, height int) DisplacementField {
	return DisplacementField{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height*2),
	}
}

func (f DisplacementField) At(x, y int) (dx, dy float32) {
	i := (y*f.Width + x) * 2
	return f.Data[i], f.Data[i+1]
}

func (f DisplacementField) Set(x, y int, dx, dy float32) {
	i := (y*f.Width + x) * 2
	f.Data[i] = dx
	f.Data[i+1] = dy
}

func (f DisplacementField) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid field dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Data) != f.Width*f.Height*2 {
		return fmt.Errorf("field data has %d values, want %d", len(f.Data), f.Width*f.Height*2)
	}
	return nil
}

// FlowRaster is the persisted color-wheel encoding of one pair's field.
type FlowRaster struct {
	PairIndex int
	Path      string
}

// VideoScore is the mean classifier probability over all rasters of a video.
type VideoScore float64

// Tensor is a CHW float32 classifier input.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

type ScoreResult struct {
	Score         VideoScore
	FrameCount    int
	PairCount     int
	VideoDuration float64
	Probabilities []float64
	Rasters       []FlowRaster
	FrameDir      string
	RasterDir     string
}
