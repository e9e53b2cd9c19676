package tsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	// ContentTypeQuery is the HTTP content type for timestamp requests
	// (RFC 3161 Section 3.4).
	ContentTypeQuery = "application/timestamp-query"

	// ContentTypeReply is the HTTP content type for timestamp responses.
	ContentTypeReply = "application/timestamp-reply"

	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 1 << 20
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout caps each round trip. Zero disables the cap.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithBasicAuth sends HTTP basic auth credentials with each request.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHeader adds a header to each request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// Client submits timestamp requests to a TSA over HTTP.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	username   string
	password   string
	userAgent  string
	headers    map[string]string
}

// NewClient builds a Client. The default HTTP client carries a cookie jar
// so TSAs behind sticky-session load balancers keep working.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout:   defaultTimeout,
		userAgent: "tsp-client/1.0",
		headers:   map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		c.httpClient = &http.Client{Jar: jar}
	}
	return c
}

// Send posts a DER-encoded request to the TSA at url and returns the raw
// DER response body. Timeouts map to ErrTransportTimeout, every other
// transport problem to ErrTransportFailure; the body is never interpreted
// here.
func (c *Client) Send(ctx context.Context, url string, reqDER []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqDER))
	if err != nil {
		return nil, opErrf("client", ErrTransportFailure, "%v", err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeQuery)
	httpReq.Header.Set("Accept", ContentTypeReply)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("client", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, opErrf("client", ErrTransportFailure, "unexpected HTTP status %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.EqualFold(mediaType, ContentTypeReply) {
			return nil, opErrf("client", ErrTransportFailure, "unexpected content type %q", ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return nil, transportError("client", err)
	}
	if len(body) == 0 {
		return nil, opErrf("client", ErrTransportFailure, "empty response body")
	}
	if len(body) > maxResponseBodySize {
		return nil, opErrf("client", ErrTransportFailure, "response body exceeds %d bytes", maxResponseBodySize)
	}
	return body, nil
}

// transportError distinguishes timeouts from other transport failures so
// callers can retry the former without inspecting error strings.
func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return opErrf(op, ErrTransportTimeout, "%v", err)
	}
	return opErrf(op, ErrTransportFailure, "%v", err)
}

// RequestTimestamp builds a request for digest, submits it to url and
// returns the parsed response after checking the imprint and nonce echo.
// The returned response still needs Verify with trust anchors before the
// token can be relied on.
func (c *Client) RequestTimestamp(ctx context.Context, url string, alg DigestAlgorithm, digest []byte, opts RequestOptions) (*Request, *Response, error) {
	req, err := NewRequest(digest, alg, opts)
	if err != nil {
		return nil, nil, err
	}
	reqDER, err := req.Marshal()
	if err != nil {
		return req, nil, err
	}

	respDER, err := c.Send(ctx, url, reqDER)
	if err != nil {
		return req, nil, err
	}

	resp, err := ParseResponse(respDER)
	if err != nil {
		return req, resp, err
	}

	if err := matchRequest(req, resp.Token); err != nil {
		return req, resp, err
	}
	return req, resp, nil
}

// matchRequest checks that the token answers the request that was sent:
// same imprint, and the nonce echoed when one was generated.
func matchRequest(req *Request, token *Token) error {
	alg, err := token.HashAlgorithm()
	if err != nil {
		return err
	}
	if alg != req.HashAlgorithm || !bytes.Equal(token.Info.MessageImprint.HashedMessage, req.HashedMessage) {
		return opErrf("client", ErrMalformedEncoding, "token imprint does not match request")
	}
	if req.Nonce != nil {
		if token.Info.Nonce == nil || token.Info.Nonce.Cmp(req.Nonce) != 0 {
			return opErrf("client", ErrNonceMismatch,
				"expected nonce %s, token carries %s", req.Nonce, nonceString(token.Info.Nonce))
		}
	}
	return nil
}

func nonceString(n *big.Int) string {
	if n == nil {
		return "none"
	}
	return fmt.Sprintf("%x", n)
}
