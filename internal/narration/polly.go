package narration

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// PollyAPI is the subset of *polly.Client methods used by PollySynthesizer.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

var voices = map[string]types.VoiceId{
	"pt-br": types.VoiceIdCamila,
	"pt-pt": types.VoiceIdInes,
	"en-us": types.VoiceIdJoanna,
	"en-gb": types.VoiceIdAmy,
	"es-es": types.VoiceIdLucia,
	"es-us": types.VoiceIdLupe,
}

// VoiceFor returns the Polly voice for lang, matching on the primary subtag when the
// region is unknown. Unknown languages get the Brazilian Portuguese voice.
func VoiceFor(lang string) types.VoiceId {
	key := strings.ToLower(strings.ReplaceAll(lang, "_", "-"))
	if v, ok := voices[key]; ok {
		return v
	}
	primary, _, _ := strings.Cut(key, "-")
	switch primary {
	case "pt":
		return types.VoiceIdCamila
	case "en":
		return types.VoiceIdJoanna
	case "es":
		return types.VoiceIdLucia
	}
	return types.VoiceIdCamila
}

// PollySynthesizer renders utterances to MP3 with Amazon Polly.
type PollySynthesizer struct {
	client PollyAPI
}

func NewPollySynthesizer(client PollyAPI) *PollySynthesizer {
	return &PollySynthesizer{client: client}
}

func (p *PollySynthesizer) Synthesize(ctx context.Context, u Utterance) (io.ReadCloser, error) {
	lang := u.Lang
	if lang == "" {
		lang = DefaultLanguage
	}
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       types.EngineStandard,
		LanguageCode: types.LanguageCode(lang),
		OutputFormat: types.OutputFormatMp3,
		Text:         aws.String(SSML(u)),
		TextType:     types.TextTypeSsml,
		VoiceId:      VoiceFor(lang),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	return out.AudioStream, nil
}

// SSML wraps the utterance text in a prosody element carrying its rate, pitch and volume.
func SSML(u Utterance) string {
	var attrs []string
	if u.Rate != nil {
		attrs = append(attrs, fmt.Sprintf(`rate="%d%%"`, int(math.Round(clamp(*u.Rate, 0.2, 2)*100))))
	}
	if u.Pitch != nil {
		attrs = append(attrs, fmt.Sprintf(`pitch="%+d%%"`, int(math.Round((clamp(*u.Pitch, 0, 2)-1)*100))))
	}
	if u.Volume != nil {
		attrs = append(attrs, `volume="`+volumeDB(*u.Volume)+`"`)
	}

	var b strings.Builder
	b.WriteString("<speak>")
	if len(attrs) > 0 {
		b.WriteString("<prosody " + strings.Join(attrs, " ") + ">")
	}
	b.WriteString(escaper.Replace(u.Text))
	if len(attrs) > 0 {
		b.WriteString("</prosody>")
	}
	b.WriteString("</speak>")
	return b.String()
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// volumeDB maps a linear volume in [0, 1] to a Polly decibel offset.
func volumeDB(v float64) string {
	v = clamp(v, 0, 1)
	if v == 0 {
		return "silent"
	}
	return fmt.Sprintf("%+.1fdB", 20*math.Log10(v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
