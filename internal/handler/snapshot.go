package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/eremconecta/portal/internal/adapter"
)

var errInvalidJSON = errors.New("request body is not valid JSON")

// SnapshotSaver persists a JSON document under a key.
type SnapshotSaver interface {
	SaveJSON(ctx context.Context, key string, payload json.RawMessage) error
}

// SnapshotHandler writes request bodies to object storage.
type SnapshotHandler struct {
	saver  SnapshotSaver
	now    func() time.Time
	logger *slog.Logger
}

func NewSnapshotHandler(saver SnapshotSaver, logger *slog.Logger) *SnapshotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotHandler{saver: saver, now: time.Now, logger: logger}
}

// Save stores the JSON body under the key query parameter, or a timestamped key.
func (h *SnapshotHandler) Save(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !methodAllowed(req, http.MethodPost) {
		return methodNotAllowed(), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return h.fail(err), nil
	}
	if len(body) > 0 && !json.Valid(body) {
		return h.fail(errInvalidJSON), nil
	}

	key := req.QueryStringParameters["key"]
	if key == "" {
		key = adapter.DefaultKey(h.now())
	}
	if err := h.saver.SaveJSON(ctx, key, body); err != nil {
		return h.fail(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{"message": "Saved to S3", "key": key}), nil
}

func (h *SnapshotHandler) fail(err error) events.APIGatewayProxyResponse {
	h.logger.Error("save snapshot failed", "error", err)
	return errorResponse(http.StatusInternalServerError, "Failed to save to S3", err)
}
