// Package api is the REST client for the conversation server: conversation
// history, recorded-audio uploads, and live room provisioning.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-call/pkg/core"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 1 << 20
	maxResponseBody       = 16 << 20

	// CodeAlreadyExists marks a create request for a resource that exists.
	CodeAlreadyExists = "already_exists"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout bounds requests whose context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the conversation server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
	logger     *slog.Logger
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSpace(baseURL),
		httpClient: newDefaultHTTPClient(),
		timeout:    defaultRequestTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	rawBaseURL := c.baseURL
	if rawBaseURL == "" {
		return "", core.NewInvalidRequestError("api base URL is not configured")
	}
	base, err := url.Parse(rawBaseURL)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return "", core.NewInvalidRequestError("invalid api base URL")
	}
	if base.User != nil {
		return "", core.NewInvalidRequestError("api base URL must not include credentials")
	}

	base.RawQuery = ""
	base.Fragment = ""
	// path is already escaped; keep escapes such as %2F intact.
	rawPath := strings.TrimSuffix(base.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid api path")
	}
	base.Path = decoded
	base.RawPath = rawPath
	if len(query) > 0 {
		base.RawQuery = query.Encode()
	}
	return base.String(), nil
}

func (c *Client) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), c.timeout)
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends the request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return err
	}
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.NewTransportError(method, endpoint, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeErrorResponse(resp, endpoint, method)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return core.NewTransportError(method, endpoint, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewServerError(fmt.Sprintf("decode %s response: %v", path, err), "invalid_response")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return core.NewInvalidRequestError(fmt.Sprintf("encode request: %v", err))
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, nil, body, "application/json", out)
}

// decodeErrorResponse maps a non-2xx response to a *core.Error. Bodies may be
// {"error": "..."}, {"error": {"message": ...}} or {"message": "..."}.
func decodeErrorResponse(resp *http.Response, endpoint, method string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return core.NewTransportError(method, endpoint, err)
	}

	message := ""
	code := ""
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		message = strings.TrimSpace(env.Message)
		code = strings.TrimSpace(env.Code)
		if len(env.Error) > 0 {
			var text string
			var nested struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			}
			switch {
			case json.Unmarshal(env.Error, &text) == nil && strings.TrimSpace(text) != "":
				message = strings.TrimSpace(text)
			case json.Unmarshal(env.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "":
				message = strings.TrimSpace(nested.Message)
				if nested.Code != "" {
					code = strings.TrimSpace(nested.Code)
				}
			}
		}
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		code = CodeAlreadyExists
	case code == "":
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusBadRequest {
		e := core.NewInvalidRequestError(message)
		e.Code = code
		return e
	}
	return core.NewServerError(message, code)
}

// IsAlreadyExists reports whether err says the resource being created exists.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		if coreErr.Code == CodeAlreadyExists {
			return true
		}
		return strings.Contains(strings.ToLower(coreErr.Message), "already exists")
	}
	return false
}

func multipartAudio(audio []byte, mimeType, transcript string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="recording.wav"`)
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("transcript", transcript); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}
