package narration

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
	err   error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("mp3"))}, nil
}

func ptr(v float64) *float64 { return &v }

func TestSSML(t *testing.T) {
	tests := []struct {
		name string
		u    Utterance
		want string
	}{
		{"plain", Utterance{Text: "Bem-vindo"}, "<speak>Bem-vindo</speak>"},
		{"escaped", Utterance{Text: `Notas & "faltas" <3`}, "<speak>Notas &amp; &quot;faltas&quot; &lt;3</speak>"},
		{
			"prosody",
			Utterance{Text: "Oi", Options: Options{Rate: ptr(1.25), Pitch: ptr(0.8), Volume: ptr(0.5)}},
			`<speak><prosody rate="125%" pitch="-20%" volume="-6.0dB">Oi</prosody></speak>`,
		},
		{
			"clamped",
			Utterance{Text: "Oi", Options: Options{Rate: ptr(10), Pitch: ptr(1), Volume: ptr(0)}},
			`<speak><prosody rate="200%" pitch="+0%" volume="silent">Oi</prosody></speak>`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SSML(tc.u))
		})
	}
}

func TestVoiceFor(t *testing.T) {
	assert.Equal(t, types.VoiceIdCamila, VoiceFor("pt-BR"))
	assert.Equal(t, types.VoiceIdInes, VoiceFor("pt_PT"))
	assert.Equal(t, types.VoiceIdJoanna, VoiceFor("en-AU"))
	assert.Equal(t, types.VoiceIdLucia, VoiceFor("es"))
	assert.Equal(t, types.VoiceIdCamila, VoiceFor("fr-FR"))
}

func TestPollySynthesizer(t *testing.T) {
	fake := &fakePolly{}
	s := NewPollySynthesizer(fake)

	audio, err := s.Synthesize(context.Background(), Utterance{Text: "Olá"})
	require.NoError(t, err)
	defer audio.Close()
	body, _ := io.ReadAll(audio)
	assert.Equal(t, "mp3", string(body))

	assert.Equal(t, types.TextTypeSsml, fake.input.TextType)
	assert.Equal(t, types.OutputFormatMp3, fake.input.OutputFormat)
	assert.Equal(t, types.VoiceIdCamila, fake.input.VoiceId)
	assert.Equal(t, types.LanguageCode("pt-BR"), fake.input.LanguageCode)
	assert.Equal(t, "<speak>Olá</speak>", *fake.input.Text)

	fake.err = errors.New("TextLengthExceededException")
	_, err = s.Synthesize(context.Background(), Utterance{Text: "x", Options: Options{Lang: "en-US"}})
	assert.ErrorContains(t, err, "TextLengthExceeded")
	assert.Equal(t, types.VoiceIdJoanna, fake.input.VoiceId)
}
