// Package provider talks to the cloud provider's paginated JSON REST API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/apperr"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/metrics"
)

const (
	ConnectTimeout = 8 * time.Second
	RequestTimeout = 20 * time.Second
	LongTimeout    = 60 * time.Second

	PerPage  = 50
	maxPages = 1000
	maxBody  = 32 << 20
)

// Item is one decoded resource object. Numbers are json.Number so large ids
// keep their precision.
type Item = map[string]any

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Long   bool
}

type Response struct {
	Status int
	Body   Item
}

type Options struct {
	BaseURL       string
	DisableDelete bool
	// RatePerSec throttles outgoing calls; zero disables throttling.
	RatePerSec float64
	Logger     logging.Logger
	HTTPClient *http.Client
}

type Client struct {
	base          string
	disableDelete bool
	http          *http.Client
	limiter       *rate.Limiter
	logger        logging.Logger
}

func New(o Options) *Client {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: LongTimeout,
		}}
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Client{
		base:          strings.TrimRight(o.BaseURL, "/"),
		disableDelete: o.DisableDelete,
		http:          hc,
		logger:        logger,
	}
	if o.RatePerSec > 0 {
		burst := int(o.RatePerSec * 2)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.RatePerSec), burst)
	}
	return c
}

func (c *Client) checkVerb(method, path string) error {
	if c.disableDelete && strings.EqualFold(method, http.MethodDelete) {
		return apperr.New(apperr.KindOperationDisabled, "DELETE "+path, "delete operations are disabled by configuration")
	}
	return nil
}

// Do performs one authenticated call. Non-2xx answers and transport failures
// are returned as *apperr.Error carrying the status (0 for transport).
func (c *Client) Do(ctx context.Context, token string, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	op := method + " " + r.Path
	if err := c.checkVerb(method, r.Path); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Configuration(op, "provider token is empty")
	}

	u := c.base + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfiguration, op, err)
		}
		body = bytes.NewReader(b)
	}

	timeout := RequestTimeout
	if r.Long {
		timeout = LongTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.KindTransport, op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(method, metrics.StatusClass(0)).Inc()
		c.logger.Warn("provider request failed", "op", op, "error", err)
		return nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()
	metrics.ProviderRequests.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}
	out := &Response{Status: resp.StatusCode, Body: Decode(raw)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider returned error", "op", op, "status", resp.StatusCode)
		return out, &apperr.Error{
			Kind:    apperr.KindProvider,
			Status:  resp.StatusCode,
			Op:      op,
			Message: errorMessage(out.Body, raw),
			Body:    raw,
		}
	}
	c.logger.Debug("provider request", "op", op, "status", resp.StatusCode, "durationMs", time.Since(start).Milliseconds())
	return out, nil
}

// Decode parses a JSON object keeping numbers as json.Number. Empty or
// non-object input yields an empty Item.
func Decode(raw []byte) Item {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m Item
	if err := dec.Decode(&m); err != nil || m == nil {
		return Item{}
	}
	return m
}

func errorMessage(body Item, raw []byte) string {
	if msg := String(Dig(body, "error", "message")); msg != "" {
		if code := String(Dig(body, "error", "code")); code != "" {
			return code + ": " + msg
		}
		return msg
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 300 {
		s = s[:300]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

// FetchAll walks every page of d's collection. It follows
// meta.pagination.next_page and stops on a missing, null, non-numeric or
// non-advancing value.
func (c *Client) FetchAll(ctx context.Context, token string, d Descriptor) ([]Item, error) {
	var items []Item
	page := 1
	for n := 0; n < maxPages; n++ {
		q := url.Values{}
		for k, v := range d.Query {
			q.Set(k, v)
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(PerPage))

		resp, err := c.Do(ctx, token, Request{Method: http.MethodGet, Path: d.Path, Query: q})
		if err != nil {
			return items, fmt.Errorf("fetch %s page %d: %w", d.Type, page, err)
		}
		items = append(items, Items(resp.Body, d.CollectionKey)...)

		next, ok := NextPage(resp.Body)
		if !ok || next <= page {
			return items, nil
		}
		page = next
	}
	c.logger.Warn("pagination limit reached", "type", d.Type, "pages", maxPages)
	return items, nil
}

// Items extracts the object entries of body[key].
func Items(body Item, key string) []Item {
	list, _ := body[key].([]any)
	out := make([]Item, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// NextPage reads meta.pagination.next_page.
func NextPage(body Item) (int, bool) {
	switch v := Dig(body, "meta", "pagination", "next_page").(type) {
	case json.Number:
		return positiveInt(v.String())
	case float64:
		if v > 0 && v == float64(int(v)) {
			return int(v), true
		}
	case string:
		return positiveInt(strings.TrimSpace(v))
	}
	return 0, false
}

func positiveInt(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

// IsDisabled reports whether err is the delete kill switch.
func IsDisabled(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindOperationDisabled
}
