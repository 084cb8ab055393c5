package speech

import "github.com/fyrsmithlabs/voiced/internal/audio"

func audioBuffer() audio.Buffer {
	return audio.Buffer{Data: []byte{0, 0, 0, 0}, Format: audio.PCM16(16000)}
}
