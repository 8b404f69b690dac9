package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/eremconecta/portal/internal/auth"
	"github.com/eremconecta/portal/internal/model"
)

// AccessTokenCookie is the cookie the web client stores its access token in.
const AccessTokenCookie = "sb-access-token"

var ErrNoToken = errors.New("no authorization token found")

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// accessToken reads the bearer token, falling back to the access token cookie.
func accessToken(req events.APIGatewayProxyRequest) string {
	if h := header(req, "Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == AccessTokenCookie {
			return value
		}
	}
	return ""
}

// GetPrincipal verifies the caller's access token against the project JWT secret.
func GetPrincipal(req events.APIGatewayProxyRequest, jwtSecret []byte) (model.Principal, error) {
	token := accessToken(req)
	if token == "" {
		return model.Principal{}, ErrNoToken
	}
	p, err := auth.VerifyToken(token, jwtSecret)
	if err != nil {
		return model.Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	return p, nil
}

// requestBody returns the raw body, decoding it when API Gateway base64-encoded it.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// methodAllowed accepts an empty method, as direct invocations carry none.
func methodAllowed(req events.APIGatewayProxyRequest, method string) bool {
	return req.HTTPMethod == "" || strings.EqualFold(req.HTTPMethod, method)
}

type errorBody struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{Message: "Failed to encode response", Details: err.Error()})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, message string, err error) events.APIGatewayProxyResponse {
	e := errorBody{Message: message}
	if err != nil {
		e.Details = err.Error()
	}
	return jsonResponse(status, e)
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return errorResponse(http.StatusMethodNotAllowed, "Method not allowed", nil)
}
