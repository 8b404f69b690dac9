package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ProxiesEvents(t *testing.T) {
	var got events.APIGatewayProxyRequest
	h := func(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		got = req
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusCreated,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"ok":true}`,
		}, nil
	}
	srv := httptest.NewServer(newRouter(h))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/save?key=records/a.json&key=ignored", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(body))

	assert.Equal(t, http.MethodPost, got.HTTPMethod)
	assert.Equal(t, "/api/save", got.Path)
	assert.Equal(t, "records/a.json", got.QueryStringParameters["key"])
	assert.Equal(t, "Bearer abc", got.Headers["Authorization"])
	assert.Equal(t, `{"a":1}`, got.Body)
	assert.False(t, got.IsBase64Encoded)
}

func TestRouter_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestToEvent_BinaryBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader("\xff\xfe"))
	req, err := toEvent(r)
	require.NoError(t, err)
	assert.True(t, req.IsBase64Encoded)
	assert.Equal(t, "//4=", req.Body)
}

func TestProxy_HandlerError(t *testing.T) {
	h := func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return events.APIGatewayProxyResponse{}, io.ErrUnexpectedEOF
	}
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
