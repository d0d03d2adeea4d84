package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

var (
	_ blob.Store     = &Client{}
	_ blob.Haser     = &Client{}
	_ notesync.Swarm = &Client{}
)

// HTTPError is a non-2xx response from the hub.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client talks to a hub.
// It is a block store backed by the hub's blocks,
// and a notesync.Swarm for the watchdog.
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  *http.Transport
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient makes the Client use hc.
// Connect and Disconnect then only affect hc's transport if it is an *http.Transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
		c.transport, _ = hc.Transport.(*http.Transport)
	}
}

// NewClient produces a Client for the hub at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		transport:  tr,
		httpClient: &http.Client{Transport: tr},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the hub's address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, requestPath string, body []byte) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s %s", method, requestPath)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading response to %s %s", method, requestPath)
	}
	return resp, payload, nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body []byte, out interface{}) error {
	resp, payload, err := c.do(ctx, method, requestPath, body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(payload, out), "decoding response")
}

func responseError(code int, payload []byte) *HTTPError {
	var errPayload errorResponse
	if json.Unmarshal(payload, &errPayload) != nil || errPayload.Message == "" {
		errPayload.Message = http.StatusText(code)
	}
	return &HTTPError{StatusCode: code, Message: errPayload.Message}
}

// Resolve returns the hash last published for the account id.
// The boolean is false if there is none.
func (c *Client) Resolve(ctx context.Context, id string) (notesync.Hash, bool, error) {
	q := url.Values{}
	q.Set("id", id)

	var out ResolveResponse
	if err := c.doJSON(ctx, http.MethodGet, "/resolve?"+q.Encode(), nil, &out); err != nil {
		return notesync.Zero, false, errors.Wrapf(err, "resolving %s", id)
	}
	if out.CID == nil {
		return notesync.Zero, false, nil
	}
	h, err := notesync.HashFromHex(*out.CID)
	if err != nil {
		return notesync.Zero, false, errors.Wrapf(err, "parsing cid for %s", id)
	}
	return h, true, nil
}

// Publish publishes h as the tree of the account id.
// The hub must already have the block h.
// A non-2xx response is a *notesync.PublishRejectedError.
func (c *Client) Publish(ctx context.Context, id string, h notesync.Hash, password string) error {
	q := url.Values{}
	q.Set("id", id)
	q.Set("cid", h.String())
	q.Set("password", password)

	resp, payload, err := c.do(ctx, http.MethodPost, "/publish?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := responseError(resp.StatusCode, payload)
		return &notesync.PublishRejectedError{StatusCode: herr.StatusCode, Message: herr.Message}
	}
	return nil
}

// Get implements blob.Getter.
func (c *Client) Get(ctx context.Context, h notesync.Hash) ([]byte, error) {
	resp, payload, err := c.do(ctx, http.MethodGet, "/blocks/"+h.String(), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(notesync.ErrNotFound, "block %s", h)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.Wrapf(responseError(resp.StatusCode, payload), "getting %s", h)
	}
	return payload, nil
}

// Has implements blob.Haser.
func (c *Client) Has(ctx context.Context, h notesync.Hash) (bool, error) {
	resp, payload, err := c.do(ctx, http.MethodHead, "/blocks/"+h.String(), nil)
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, errors.Wrapf(responseError(resp.StatusCode, payload), "checking %s", h)
	}
	return true, nil
}

// Put implements blob.Store.
func (c *Client) Put(ctx context.Context, b []byte) (notesync.Hash, bool, error) {
	if b == nil {
		b = []byte{}
	}
	var out PutBlockResponse
	if err := c.doJSON(ctx, http.MethodPut, "/blocks", b, &out); err != nil {
		return notesync.Zero, false, errors.Wrap(err, "putting block")
	}
	h, err := notesync.HashFromHex(out.Hash)
	if err != nil {
		return notesync.Zero, false, errors.Wrap(err, "parsing stored hash")
	}
	if want := notesync.HashOf(b); h != want {
		return notesync.Zero, false, errors.Errorf("hub stored %s, want %s", h, want)
	}
	return h, out.Added, nil
}

// Ping implements notesync.Swarm.
// It requests /ping from addr,
// or from the client's own hub if addr is empty.
func (c *Client) Ping(ctx context.Context, addr string, opts notesync.PingOptions) ([]notesync.PingResult, error) {
	base := c.baseURL
	if addr != "" {
		base = strings.TrimRight(addr, "/")
	}
	count := opts.Count
	if count <= 0 {
		count = 1
	}

	var result []notesync.PingResult
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result = append(result, c.ping(ctx, base, opts.Timeout))
	}
	return result, nil
}

func (c *Client) ping(ctx context.Context, base string, timeout time.Duration) notesync.PingResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/ping", nil)
	if err != nil {
		return notesync.PingResult{Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return notesync.PingResult{Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return notesync.PingResult{Err: &HTTPError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}}
	}
	return notesync.PingResult{Success: true, RTT: time.Since(start)}
}

// Connect implements notesync.Swarm.
// HTTP connects on demand,
// so this drops pooled connections and lets the next request dial afresh.
func (c *Client) Connect(context.Context, string) error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

// Disconnect implements notesync.Swarm.
func (c *Client) Disconnect(context.Context, string) error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

func init() {
	blob.Register("hub", func(_ context.Context, conf map[string]interface{}) (blob.Store, error) {
		u, ok := conf["url"].(string)
		if !ok {
			return nil, errors.New(`missing "url" parameter`)
		}
		return NewClient(u), nil
	})
}
