package repositories

import "context"

// TextToSpeech turns one piece of text into playable audio in a single request
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioPlayer plays synthesized audio and returns once playback has finished
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}
