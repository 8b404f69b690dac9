package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/eremconecta/portal/internal/model"
)

// LatestProfiles lists the most recently created profiles.
type LatestProfiles interface {
	Latest(ctx context.Context, limit int) ([]model.Profile, error)
}

// DataHandler serves profile listings.
type DataHandler struct {
	profiles LatestProfiles
	logger   *slog.Logger
}

func NewDataHandler(profiles LatestProfiles, logger *slog.Logger) *DataHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataHandler{profiles: profiles, logger: logger}
}

// GetLatest returns {data: [...]} with the newest profiles. The limit query parameter
// defaults to 10 when missing, not a number or not positive.
func (h *DataHandler) GetLatest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !methodAllowed(req, http.MethodGet) {
		return methodNotAllowed(), nil
	}

	limit, err := strconv.Atoi(req.QueryStringParameters["limit"])
	if err != nil || limit <= 0 {
		limit = 10
	}

	rows, err := h.profiles.Latest(ctx, limit)
	if err != nil {
		h.logger.Error("fetch latest profiles failed", "limit", limit, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to fetch data", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"data": rows}), nil
}
