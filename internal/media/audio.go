package media

import (
	"encoding/binary"
	"errors"
)

// Audio holds capture metadata probed from a recorded clip. Audio bypasses
// pixel compression; only container metadata is read, never samples.
type Audio struct {
	DurationMS int64
	SampleRate int
	Size       int
}

var errShortHeader = errors.New("media: truncated wav header")

// ProbeAudio reads duration and sample rate from a WAV container. Unknown
// containers are accepted with zero duration: a clip the device recorded in
// another format still syncs, it just lacks the duration hint.
func ProbeAudio(raw []byte) (*Audio, error) {
	a := &Audio{Size: len(raw)}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return a, nil
	}

	var byteRate uint32
	var dataSize uint32

	// Walk the RIFF chunks for fmt and data.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(raw) {
				return nil, errShortHeader
			}
			a.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			byteRate = binary.LittleEndian.Uint32(raw[body+8 : body+12])
		case "data":
			dataSize = size
		}
		// Chunks are word-aligned.
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}

	if byteRate > 0 && dataSize > 0 {
		a.DurationMS = int64(dataSize) * 1000 / int64(byteRate)
	}
	return a, nil
}
