// Package narration speaks interface text aloud through a speech synthesizer.
package narration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// DefaultLanguage is used when neither the utterance nor the narrator names one.
const DefaultLanguage = "pt-BR"

// Options tune one utterance. Nil fields keep the synthesizer defaults.
// Rate and Pitch are multipliers around 1; Volume ranges over [0, 1].
type Options struct {
	Rate   *float64
	Pitch  *float64
	Volume *float64
	Lang   string
}

// Utterance is a piece of text queued for synthesis.
type Utterance struct {
	Text string
	Options
}

// Synthesizer turns an utterance into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, u Utterance) (io.ReadCloser, error)
}

// Sink receives synthesized audio.
type Sink interface {
	Play(ctx context.Context, audio io.Reader) error
}

// NarratorOption configures a Narrator.
type NarratorOption func(*Narrator)

// WithLanguage sets the language of utterances that do not name one.
func WithLanguage(lang string) NarratorOption {
	return func(n *Narrator) {
		if lang != "" {
			n.lang = lang
		}
	}
}

func WithLogger(l *slog.Logger) NarratorOption {
	return func(n *Narrator) { n.logger = l }
}

// Narrator plays utterances one at a time, in the order they were spoken.
type Narrator struct {
	synth  Synthesizer
	sink   Sink
	lang   string
	logger *slog.Logger

	ctx       context.Context
	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	queue   []Utterance
	current context.CancelFunc
	idle    []chan struct{}
	wake    chan struct{}
}

// NewNarrator starts a narrator. Close releases its worker.
func NewNarrator(synth Synthesizer, sink Sink, opts ...NarratorOption) *Narrator {
	ctx, stop := context.WithCancel(context.Background())
	n := &Narrator{
		synth:  synth,
		sink:   sink,
		lang:   DefaultLanguage,
		logger: slog.Default(),
		ctx:    ctx,
		stop:   stop,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.run()
	return n
}

// Speak queues text and returns immediately. Blank text is ignored.
func (n *Narrator) Speak(text string, opts Options) {
	if strings.TrimSpace(text) == "" || n.ctx.Err() != nil {
		return
	}
	if opts.Lang == "" {
		opts.Lang = n.lang
	}

	n.mu.Lock()
	n.queue = append(n.queue, Utterance{Text: text, Options: opts})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Cancel drops queued utterances and interrupts the one being played.
func (n *Narrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = nil
	if n.current != nil {
		n.current()
	}
}

// Pending reports the number of queued utterances, excluding the one being played.
func (n *Narrator) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Drain waits until every queued utterance has been played or cancelled.
func (n *Narrator) Drain(ctx context.Context) error {
	n.mu.Lock()
	if len(n.queue) == 0 && n.current == nil {
		n.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	n.idle = append(n.idle, ch)
	n.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all speech and waits for the worker to exit.
func (n *Narrator) Close() {
	n.closeOnce.Do(func() {
		n.Cancel()
		n.stop()
		<-n.done
	})
}

func (n *Narrator) run() {
	defer close(n.done)
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.wake:
		}
		for {
			u, ctx, ok := n.next()
			if !ok {
				break
			}
			n.play(ctx, u)
		}
	}
}

func (n *Narrator) next() (Utterance, context.Context, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 || n.ctx.Err() != nil {
		for _, ch := range n.idle {
			close(ch)
		}
		n.idle = nil
		return Utterance{}, nil, false
	}
	u := n.queue[0]
	n.queue = n.queue[1:]
	ctx, cancel := context.WithCancel(n.ctx)
	n.current = cancel
	return u, ctx, true
}

func (n *Narrator) play(ctx context.Context, u Utterance) {
	defer func() {
		n.mu.Lock()
		n.current()
		n.current = nil
		n.mu.Unlock()
	}()

	audio, err := n.synth.Synthesize(ctx, u)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			n.logger.Warn("synthesize failed", "lang", u.Lang, "error", err)
		}
		return
	}
	defer audio.Close()

	if err := n.sink.Play(ctx, audio); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Warn("play failed", "lang", u.Lang, "error", err)
	}
}

// WriterSink copies audio into W, stopping early when the utterance is cancelled.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Play(ctx context.Context, audio io.Reader) error {
	_, err := io.Copy(s.W, ctxReader{ctx: ctx, r: audio})
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
