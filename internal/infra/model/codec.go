package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single frame read from a worker (a 4K flow field is ~66MB).
const maxMessageSize = 256 << 20

// writeMessage writes v as a 4-byte big-endian length prefix followed by its msgpack body.
func writeMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write msgpack body: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack body.
func readMessage(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix)
	if n > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read msgpack body: %w", err)
	}
	return body, nil
}

type errorReply struct {
	Error string `msgpack:"error"`
}

type flowRequest struct {
	Op     string `msgpack:"op"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Image1 []byte `msgpack:"image1"`
	Image2 []byte `msgpack:"image2"`
}

// flowReply carries the field as little-endian float32 values, (dx, dy) interleaved.
type flowReply struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Flow   []byte `msgpack:"flow"`
}

// classifyRequest carries a CHW tensor as little-endian float32 values.
type classifyRequest struct {
	Op       string `msgpack:"op"`
	Channels int    `msgpack:"channels"`
	Height   int    `msgpack:"height"`
	Width    int    `msgpack:"width"`
	Tensor   []byte `msgpack:"tensor"`
}

type classifyReply struct {
	Logit float64 `msgpack:"logit"`
}

func encodeFloat32s(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32s(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("float32 payload of %d bytes is not a multiple of 4", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
