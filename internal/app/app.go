// Package app holds the composition roots: the Lambda App and the terminal Portal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eremconecta/portal/internal/adapter"
	"github.com/eremconecta/portal/internal/adapter/memory"
	s3store "github.com/eremconecta/portal/internal/adapter/s3"
	"github.com/eremconecta/portal/internal/config"
	"github.com/eremconecta/portal/internal/handler"
	"github.com/eremconecta/portal/internal/profile"
)

// OriginHeader carries the shared secret CloudFront adds to forwarded requests.
const OriginHeader = "X-Origin-Verify"

// Handlers are the request handlers the App routes to.
type Handlers struct {
	Data     *handler.DataHandler
	Snapshot *handler.SnapshotHandler
	Profile  *handler.ProfileHandler
}

// App holds the dependencies for the Lambda function.
type App struct {
	handlers     Handlers
	frontendURL  string
	originSecret string
	logger       *slog.Logger
	close        func()
}

// New returns an App routing to h. An empty originSecret disables the origin check.
func New(h Handlers, frontendURL, originSecret string, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{handlers: h, frontendURL: frontendURL, originSecret: originSecret, logger: logger, close: func() {}}
}

// NewApp initializes the application dependencies from cfg.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := cfg.Logger()

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resolver := newResolver(cfg, awsCfg, logger)
	k, err := resolveKeys(ctx, cfg, resolver, logger)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newDataStore(ctx, cfg, k.anon, nil, logger)
	if err != nil {
		return nil, err
	}
	profiles := profile.NewRepository(store, logger)

	var objects adapter.ObjectStore
	if cfg.DevMode {
		objects = memory.NewStore(0)
		logger.Info("using in-memory object store (DEV_MODE=true)")
	} else {
		objects = s3store.NewStore(s3.NewFromConfig(awsCfg))
	}

	var originSecret string
	if cfg.OriginSecretParam != "" && !cfg.DevMode {
		originSecret, err = resolver.GetSecret(ctx, cfg.OriginSecretParam)
		if err != nil {
			logger.Warn("failed to resolve origin secret", "param", cfg.OriginSecretParam, "error", err)
		}
	}

	a := New(Handlers{
		Data:     handler.NewDataHandler(profiles, logger),
		Snapshot: handler.NewSnapshotHandler(adapter.NewSnapshotter(objects, cfg.Bucket), logger),
		Profile:  handler.NewProfileHandler(profiles, k.jwtSecret, logger),
	}, cfg.FrontendURL, originSecret, logger)
	a.close = closeStore
	return a, nil
}

// Close releases the data store.
func (app *App) Close() {
	app.close()
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := strings.ToUpper(req.HTTPMethod)
	path := strings.TrimSuffix(req.Path, "/")

	app.logger.Debug("request", "method", method, "path", req.Path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	if app.originSecret != "" && header(req, OriginHeader) != app.originSecret {
		app.logger.Warn("blocked request without origin secret", "path", req.Path)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	// Strip /api prefix if present (for CloudFront proxying)
	if path == "/api" || strings.HasPrefix(path, "/api/") {
		path = strings.TrimPrefix(path, "/api")
	}

	switch path {
	case "/data":
		return app.corsResponse(app.must(app.handlers.Data.GetLatest(ctx, req))), nil
	case "/save":
		return app.corsResponse(app.must(app.handlers.Snapshot.Save(ctx, req))), nil
	case "/me":
		return app.corsResponse(app.must(app.handlers.Profile.GetMe(ctx, req))), nil
	}

	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, req.Path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	if resp.Headers["Access-Control-Allow-Origin"] == "" {
		resp.Headers["Access-Control-Allow-Origin"] = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must converts a handler error into a 500 response.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error("handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
