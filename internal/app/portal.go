package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/auth"
	"github.com/eremconecta/portal/internal/config"
	"github.com/eremconecta/portal/internal/crypto"
	"github.com/eremconecta/portal/internal/narration"
	"github.com/eremconecta/portal/internal/profile"
	"github.com/eremconecta/portal/internal/session"
)

// Portal is the client side of the portal: the signed-in principal, its profile and
// narration, as used by the terminal client.
type Portal struct {
	Config   config.Config
	Logger   *slog.Logger
	Auth     auth.Service
	Profiles *profile.Repository
	Enroller *profile.Enroller
	Sync     *session.Synchronizer
	Narrator *narration.Narrator

	closers []func()
}

// PortalOption configures NewPortal.
type PortalOption func(*portalOptions)

type portalOptions struct {
	audio io.Writer
}

// WithAudioOutput sets where synthesized speech is written. The default discards it.
func WithAudioOutput(w io.Writer) PortalOption {
	return func(o *portalOptions) { o.audio = w }
}

// NewPortal wires the authentication client, the data store authorized as the signed-in
// principal, the profile repository, a synchronizer and a narrator.
func NewPortal(ctx context.Context, cfg config.Config, opts ...PortalOption) (*Portal, error) {
	o := portalOptions{audio: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	logger := cfg.Logger()

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	k, err := resolveKeys(ctx, cfg, newResolver(cfg, awsCfg, logger), logger)
	if err != nil {
		return nil, err
	}

	p := &Portal{Config: cfg, Logger: logger}

	var synth narration.Synthesizer
	if cfg.DevMode {
		mem := auth.NewMemory(k.jwtSecret)
		mem.AutoConfirm = true
		p.Auth = mem
		synth = narration.Transcript{}
	} else {
		var enc crypto.Encryptor = crypto.NewPlainEncryptor()
		if cfg.KMSKeyID != "" {
			enc = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		} else {
			logger.Warn("KMS_KEY_ID is empty, refresh tokens are stored unencrypted")
		}
		store := auth.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.SessionsTable, enc)
		client, err := auth.NewClient(cfg.SupabaseURL, k.anon,
			auth.WithSessionStore(store, cfg.SessionKey),
			auth.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		p.Auth = client

		refreshCtx, stopRefresh := context.WithCancel(context.Background())
		go client.AutoRefresh(refreshCtx)
		p.closers = append(p.closers, stopRefresh)

		synth = narration.NewPollySynthesizer(polly.NewFromConfig(awsCfg))
	}

	store, closeStore, err := newDataStore(ctx, cfg, k.anon, tokenSource(p.Auth), logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, closeStore)

	p.Profiles = profile.NewRepository(store, logger)
	p.Enroller = profile.NewEnroller(p.Auth, p.Profiles)
	p.Sync = session.New(p.Auth, p.Profiles, session.WithLogger(logger))
	p.Narrator = narration.NewNarrator(synth, narration.WriterSink{W: o.audio},
		narration.WithLanguage(cfg.Locale),
		narration.WithLogger(logger),
	)
	p.closers = append(p.closers, p.Sync.Unmount, p.Narrator.Close)
	return p, nil
}

// tokenSource returns the access token source of svc, when it has one.
func tokenSource(svc auth.Service) oauth2.TokenSource {
	if ts, ok := svc.(interface{ TokenSource() oauth2.TokenSource }); ok {
		return ts.TokenSource()
	}
	return nil
}

// Close stops the narrator, the synchronizer and background refresh, then releases the
// data store. Safe to call on a partially built Portal.
func (p *Portal) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
