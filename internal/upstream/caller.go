package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const maxResponseBody = 1 << 20

// Request names one upstream operation and the HTTP exchange that
// performs it.
type Request struct {
	Operation string
	Method    string
	URL       string
	Profile   Profile
	Header    http.Header
	Body      []byte
}

// Response is the raw outcome of a completed call. Non-2xx statuses are
// returned as responses, not errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Caller is the remote call port. Implementations return an error only
// when no response could be obtained.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, req Request) (*Response, error)

func (f CallerFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPCaller performs calls with an http.Client, applying the header
// profile selected by each request.
type HTTPCaller struct {
	client   *http.Client
	profiles Profiles
	logger   *logrus.Logger
}

func NewHTTPCaller(client *http.Client, profiles Profiles, logger *logrus.Logger) *HTTPCaller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &HTTPCaller{
		client:   client,
		profiles: profiles,
		logger:   logger,
	}
}

func (c *HTTPCaller) Call(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Operation, err)
	}

	c.profiles.Apply(req.Profile, httpReq.Header)
	for k, vals := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"op":      req.Operation,
			"profile": string(req.Profile),
		}).WithError(err).Warn("upstream call failed")
		return nil, fmt.Errorf("%s: %w", req.Operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", req.Operation, err)
	}

	c.logger.WithFields(logrus.Fields{
		"op":       req.Operation,
		"profile":  string(req.Profile),
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("upstream call completed")

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}, nil
}
