package startgg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alex65536/bracketd/internal/cache"
	"github.com/alex65536/bracketd/internal/retry"
	"github.com/alex65536/bracketd/internal/util/httputil"
	"golang.org/x/time/rate"
)

// API is the typed view of the upstream bracket service.
type API interface {
	GetTournament(ctx context.Context, slug string) (*Tournament, error)
	GetEventSets(ctx context.Context, eventID ID) ([]Set, error)
	GetEventEntrants(ctx context.Context, eventID ID, page, perPage int) (*EntrantPage, error)
	GetTournamentsByOwner(ctx context.Context, ownerID ID) ([]Tournament, error)
}

type Options struct {
	Endpoint          string        `toml:"endpoint"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerMinute int           `toml:"requests-per-minute"`
	PerPage           int           `toml:"per-page"`
	Retry             retry.Policy  `toml:"retry"`
	CacheTTL          time.Duration `toml:"cache-ttl"`
}

func (o *Options) FillDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = "https://api.start.gg/gql/alpha"
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = 80
	}
	if o.PerPage == 0 {
		o.PerPage = 50
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = 30 * time.Second
	}
	o.Retry.FillDefaults()
}

func (o *Options) Validate() error {
	if o.RequestsPerMinute < 0 {
		return fmt.Errorf("negative requests per minute")
	}
	if o.PerPage < 0 {
		return fmt.Errorf("negative page size")
	}
	if o.CacheTTL < 0 {
		return fmt.Errorf("negative cache ttl")
	}
	if err := o.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

type Client struct {
	o       Options
	token   string
	log     *slog.Logger
	http    *http.Client
	limiter *rate.Limiter
	retry   *retry.Wrapper
	// Nil disables caching.
	cache cache.Store
}

var _ API = (*Client)(nil)

// New builds a client. store may be nil, in which case every call reaches
// upstream.
func New(log *slog.Logger, o Options, token string, store cache.Store, httpClient *http.Client) (*Client, error) {
	o.FillDefaults()
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("bad options: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		o:       o,
		token:   token,
		log:     log,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.RequestsPerMinute)), 1),
		retry:   retry.NewWrapper(o.Retry, retry.WithLogger(log)),
		cache:   store,
	}, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage    `json:"data"`
	Errors []GraphQLErrorItem `json:"errors"`
}

func (c *Client) setUpRequest(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := httputil.ExtractReqID(req.Context()); id != "" {
		req.Header.Set(httputil.RequestIDHeader, id)
	}
}

func decodeError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: status, Message: string(body)}
	case http.StatusTooManyRequests:
		return &HTTPError{Status: status, Body: string(body)}
	}
	var rsp gqlResponse
	if err := json.Unmarshal(body, &rsp); err == nil && len(rsp.Errors) != 0 {
		return &GraphQLError{Errors: rsp.Errors}
	}
	return &HTTPError{Status: status, Body: string(body)}
}

// do performs a single GraphQL round trip and returns the raw data object.
func (c *Client) do(ctx context.Context, query string, vars map[string]any) (json.RawMessage, error) {
	if c.token == "" {
		return nil, &AuthError{Message: "no api token configured"}
	}
	data, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.o.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setUpRequest(hReq)
	hRsp, err := c.http.Do(hReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, hRsp.Body)
		_ = hRsp.Body.Close()
	}()
	body, err := io.ReadAll(hRsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if hRsp.StatusCode < 200 || hRsp.StatusCode > 299 {
		return nil, decodeError(hRsp.StatusCode, body)
	}
	var rsp gqlResponse
	if err := json.Unmarshal(body, &rsp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(rsp.Errors) != 0 {
		return nil, &GraphQLError{Errors: rsp.Errors}
	}
	return rsp.Data, nil
}

// query runs a cached, retried query and decodes its data into Rsp. The cache
// holds the raw data object, keyed by method and args.
func query[Rsp any](ctx context.Context, c *Client, method, q string, vars map[string]any, args ...any) (*Rsp, error) {
	key := cache.Key(method, args...)
	log := c.log.With(slog.String("method", method))
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, key); ok {
			var rsp Rsp
			if err := json.Unmarshal(data, &rsp); err == nil {
				log.Debug("cache hit")
				return &rsp, nil
			}
			log.Warn("dropping undecodable cache entry")
		}
	}
	data, err := retry.Call(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		return c.do(ctx, q, vars)
	})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", method, err)
	}
	var rsp Rsp
	if err := json.Unmarshal(data, &rsp); err != nil {
		return nil, fmt.Errorf("%v: unmarshal data: %w", method, err)
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, data, c.o.CacheTTL)
	}
	return &rsp, nil
}
