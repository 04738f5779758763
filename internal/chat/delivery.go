package chat

import (
	"context"
	"strings"
	"time"
)

// Delivery defaults.
const (
	DefaultBatchWords = 3
	DefaultDelay      = 30 * time.Millisecond
)

// Frame is one paced delivery chunk. The final frame has Done set and
// empty content.
type Frame struct {
	Content string
	Done    bool
}

// Deliver emits text as a paced sequence of word-batch frames, calling
// emit for each. Splitting is on single spaces so that concatenating
// every frame's content reproduces text byte for byte, including runs
// of interior whitespace. A terminal done frame always follows, even
// for empty text. Pacing is presentation only: the text is already
// final when delivery starts.
//
// Deliver stops early if ctx expires or emit returns an error; the done
// frame is only sent after a complete delivery.
func Deliver(ctx context.Context, text string, batchWords int, delay time.Duration, emit func(Frame) error) error {
	if batchWords <= 0 {
		batchWords = DefaultBatchWords
	}

	if text != "" {
		words := strings.Split(text, " ")
		for i := 0; i < len(words); i += batchWords {
			end := min(i+batchWords, len(words))
			chunk := strings.Join(words[i:end], " ")
			if end < len(words) {
				chunk += " "
			}

			if err := emit(Frame{Content: chunk}); err != nil {
				return err
			}

			if end < len(words) && delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}
	}

	return emit(Frame{Done: true})
}
