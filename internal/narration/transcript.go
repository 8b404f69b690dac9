package narration

import (
	"context"
	"io"
	"strings"
)

// Transcript is a Synthesizer for dev mode: the "audio" is the utterance text, one line
// per utterance.
type Transcript struct{}

func (Transcript) Synthesize(ctx context.Context, u Utterance) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(u.Text + "\n")), nil
}
