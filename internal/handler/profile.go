package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/eremconecta/portal/internal/accessibility"
	"github.com/eremconecta/portal/internal/auth"
	"github.com/eremconecta/portal/internal/model"
)

// ProfileLoader loads the profile of a principal; nil means not enrolled.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*model.Profile, error)
}

// ProfileHandler serves the caller's own profile.
type ProfileHandler struct {
	profiles  ProfileLoader
	jwtSecret []byte
	logger    *slog.Logger
}

func NewProfileHandler(profiles ProfileLoader, jwtSecret []byte, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{profiles: profiles, jwtSecret: jwtSecret, logger: logger}
}

type meResponse struct {
	User        model.Principal           `json:"user"`
	Profile     *model.Profile            `json:"profile"`
	Preferences accessibility.Preferences `json:"preferences"`
	Theme       []string                  `json:"theme"`
}

// GetMe returns the caller's principal, profile and accessibility defaults.
func (h *ProfileHandler) GetMe(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !methodAllowed(req, http.MethodGet) {
		return methodNotAllowed(), nil
	}

	if len(h.jwtSecret) == 0 {
		h.logger.Error("profile lookup refused, no JWT secret configured")
		return errorResponse(http.StatusServiceUnavailable, "Authentication unavailable", auth.ErrNoVerificationKey), nil
	}

	principal, err := GetPrincipal(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized", err), nil
	}

	p, err := h.profiles.Load(ctx, principal.ID)
	if err != nil {
		h.logger.Error("load profile failed", "user_id", principal.ID, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to load profile", err), nil
	}
	if p == nil {
		return errorResponse(http.StatusNotFound, "Profile not found", nil), nil
	}

	theme := accessibility.DeficiencyTheme(p.Deficiency)
	if theme == nil {
		theme = []string{}
	}
	return jsonResponse(http.StatusOK, meResponse{
		User:        principal,
		Profile:     p,
		Preferences: accessibility.ForProfile(p),
		Theme:       theme,
	}), nil
}
