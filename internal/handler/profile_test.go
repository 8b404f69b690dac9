package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eremconecta/portal/internal/handler"
	"github.com/eremconecta/portal/internal/model"
)

type stubProfiles struct {
	profiles map[string]*model.Profile
	err      error
	asked    []string
}

func (s *stubProfiles) Load(_ context.Context, userID string) (*model.Profile, error) {
	s.asked = append(s.asked, userID)
	return s.profiles[userID], s.err
}

func TestProfileHandler_GetMe(t *testing.T) {
	visual := model.DeficiencyVisual
	name := "Ana"
	stub := &stubProfiles{profiles: map[string]*model.Profile{
		testUserID: {ID: testUserID, Name: &name, Deficiency: &visual},
	}}
	h := handler.NewProfileHandler(stub, []byte(testJWTSecret), nil)

	resp, err := h.GetMe(context.Background(), makeRequest(http.MethodGet, ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)

	body := decode(t, resp)
	assert.Equal(t, testUserID, body["user"].(map[string]any)["id"])
	assert.Equal(t, "Ana", body["profile"].(map[string]any)["name"])
	assert.Equal(t, true, body["preferences"].(map[string]any)["audio_description_enabled"])
	assert.Equal(t, []any{"deficiency-visual"}, body["theme"])
	assert.Equal(t, []string{testUserID}, stub.asked)
}

func TestProfileHandler_Errors(t *testing.T) {
	ctx := context.Background()

	h := handler.NewProfileHandler(&stubProfiles{}, []byte(testJWTSecret), nil)
	resp, err := h.GetMe(ctx, makeRequest(http.MethodGet, ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req := makeRequest(http.MethodGet, "")
	req.Headers["Authorization"] = "Bearer " + makeToken(testUserID, testJWTSecret, -time.Minute)
	resp, err = h.GetMe(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = h.GetMe(ctx, makeRequest(http.MethodDelete, ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	h = handler.NewProfileHandler(&stubProfiles{err: errors.New("timeout")}, []byte(testJWTSecret), nil)
	resp, err = h.GetMe(ctx, makeRequest(http.MethodGet, ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to load profile", decode(t, resp)["message"])
}

func TestProfileHandler_NoSecretRefusesForgedToken(t *testing.T) {
	victim := "Vítima"
	stub := &stubProfiles{profiles: map[string]*model.Profile{
		"victim": {ID: "victim", Name: &victim},
	}}

	for _, secret := range [][]byte{nil, {}} {
		h := handler.NewProfileHandler(stub, secret, nil)
		req := makeRequest(http.MethodGet, "")
		req.Headers["Authorization"] = "Bearer " + makeToken("victim", "", time.Hour)

		resp, err := h.GetMe(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "Authentication unavailable", decode(t, resp)["message"])
		assert.NotContains(t, resp.Body, "Vítima")
	}
	assert.Empty(t, stub.asked)
}
