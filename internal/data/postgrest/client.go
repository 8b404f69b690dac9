// Package postgrest implements data.Store against the BaaS REST endpoint (/rest/v1).
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/eremconecta/portal/internal/auth"
	"github.com/eremconecta/portal/internal/data"
)

const (
	restPath      = "/rest/v1/"
	singleObject  = "application/vnd.pgrst.object+json"
	codeNotSingle = "PGRST116"
)

// Client is a data.Store speaking the PostgREST dialect.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type options struct {
	tokens oauth2.TokenSource
	base   http.RoundTripper
}

// Option configures a Client.
type Option func(*options)

// WithTokenSource authorizes requests as the signed-in principal. When the source
// reports auth.ErrNoSession the anon key is sent instead.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// New returns a client for the project at baseURL using anonKey as the API key.
func New(baseURL, anonKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if anonKey == "" {
		return nil, errors.New("anon key is required")
	}
	o := options{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		baseURL: u,
		http: &http.Client{Transport: &oauth2.Transport{
			Source: &fallbackSource{primary: o.tokens, anonKey: anonKey},
			Base:   &apiKeyTransport{key: anonKey, base: o.base},
		}},
	}, nil
}

func (c *Client) Select(ctx context.Context, q data.Query, dest any) error {
	params := url.Values{}
	params.Set("select", renderColumns(q.Columns))
	if err := addFilters(params, q.Filters); err != nil {
		return err
	}
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	headers := http.Header{}
	if q.Single {
		headers.Set("Accept", singleObject)
	}
	body, err := c.do(ctx, http.MethodGet, q.Table, params, headers, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", q.Table, err)
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, table string, row any) error {
	headers := http.Header{}
	headers.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	_, err := c.do(ctx, http.MethodPost, table, nil, headers, row)
	return err
}

func (c *Client) Update(ctx context.Context, table string, patch map[string]any, filters ...data.Filter) error {
	params := url.Values{}
	if err := addFilters(params, filters); err != nil {
		return err
	}
	headers := http.Header{}
	headers.Set("Prefer", "return=minimal")
	_, err := c.do(ctx, http.MethodPatch, table, params, headers, patch)
	return err
}

func (c *Client) Delete(ctx context.Context, table string, filters ...data.Filter) error {
	params := url.Values{}
	if err := addFilters(params, filters); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodDelete, table, params, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, headers http.Header, payload any) ([]byte, error) {
	u := c.baseURL.JoinPath(restPath, table)
	u.RawQuery = params.Encode()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", table, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", table, err)
	}
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	return raw, nil
}

func decodeError(status int, raw []byte) error {
	derr := &data.Error{Status: status}
	if err := json.Unmarshal(raw, derr); err != nil || derr.Message == "" {
		derr.Message = strings.TrimSpace(string(raw))
		if derr.Message == "" {
			derr.Message = http.StatusText(status)
		}
	}
	if derr.Code == codeNotSingle {
		if strings.Contains(derr.Details, " 0 rows") {
			return fmt.Errorf("%w: %s", data.ErrNoRows, derr.Details)
		}
		return fmt.Errorf("%w: %s", data.ErrMultipleRows, derr.Details)
	}
	return derr
}

// renderColumns renders a projection: "id,name,turma:turma_id(id,nome)".
func renderColumns(cols []data.Column) string {
	if len(cols) == 0 {
		return "*"
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.Embed == nil {
			parts[i] = c.Name
			continue
		}
		parts[i] = fmt.Sprintf("%s:%s(%s)", c.Embed.Alias, c.Embed.ForeignKey, renderColumns(c.Embed.Columns))
	}
	return strings.Join(parts, ",")
}

func addFilters(params url.Values, filters []data.Filter) error {
	for _, f := range filters {
		switch f.Op {
		case data.OpEq, data.OpNeq:
			params.Add(f.Column, fmt.Sprintf("%s.%v", f.Op, f.Value))
		case data.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return fmt.Errorf("filter %s: in expects []string, got %T", f.Column, f.Value)
			}
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = strconv.Quote(v)
			}
			params.Add(f.Column, "in.("+strings.Join(quoted, ",")+")")
		case data.OpIs:
			if f.Value != nil {
				return fmt.Errorf("filter %s: is only supports null", f.Column)
			}
			params.Add(f.Column, "is.null")
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return nil
}

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

// fallbackSource yields the principal's access token, or the anon key when there is
// no session. Any other token failure fails the request.
type fallbackSource struct {
	primary oauth2.TokenSource
	anonKey string
}

func (s *fallbackSource) Token() (*oauth2.Token, error) {
	if s.primary != nil {
		tok, err := s.primary.Token()
		if err != nil && !errors.Is(err, auth.ErrNoSession) {
			return nil, fmt.Errorf("access token: %w", err)
		}
		if err == nil && tok != nil && tok.AccessToken != "" {
			return tok, nil
		}
	}
	return &oauth2.Token{AccessToken: s.anonKey, TokenType: "Bearer"}, nil
}
