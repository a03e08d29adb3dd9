package filesource

import (
	"bytes"
	"encoding/binary"
)

// parseWAV extracts the sample data from a PCM16 RIFF/WAVE file.
func parseWAV(data []byte) (samples []byte, sampleRate, channels int, ok bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, 0, false
	}

	formatFound := false
	for offset := 12; offset+8 <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, false
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			bitsPerSample := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bitsPerSample != 16 {
				return nil, 0, 0, false
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			formatFound = true
		case "data":
			if !formatFound {
				return nil, 0, 0, false
			}
			return data[body : body+size], sampleRate, channels, true
		}

		offset = body + size + size%2
	}

	return nil, 0, 0, false
}
