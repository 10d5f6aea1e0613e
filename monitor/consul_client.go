package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// ConsulHeaders mirrors the three response headers Consul attaches to
// every blocking query (spec.md §6): X-Consul-Index, X-Consul-Knownleader,
// and X-Consul-Lastcontact.
type ConsulHeaders struct {
	LastIndex   uint64
	KnownLeader bool
	LastContact time.Duration
}

// RegistryClient is the narrow seam this package depends on for the
// external registry client library's blocking long-poll primitive and
// health-service query (spec.md §1 "out of scope: the registry client
// library"). The payload is returned undecoded into any Go struct — the
// Response Validator (spec.md §4.1) is the first thing allowed to trust
// its shape.
type RegistryClient interface {
	// HealthService performs one (possibly blocking) health-service
	// query. waitIndex of 0 requests the current value without
	// blocking, matching Consul's own blocking-query convention.
	HealthService(ctx context.Context, service string, waitIndex uint64, waitTime time.Duration) (payload interface{}, headers ConsulHeaders, err error)
}

// ConsulRegistryClient is the default RegistryClient, talking to a real
// Consul agent's HTTP API. It is deliberately built on a plain
// *http.Client rather than *consulapi.Client's higher-level Health()
// helper: that helper decodes responses into strongly-typed
// []*consulapi.ServiceEntry, which would reject an entire payload on
// the first type mismatch in any single node. This package instead
// decodes into interface{} so a single malformed node can be reported
// and dropped without losing its siblings (spec.md §4.1).
type ConsulRegistryClient struct {
	address    string
	scheme     string
	token      string
	httpClient *http.Client
}

// NewConsulRegistryClient builds a ConsulRegistryClient from a Consul
// api.Config. It uses cfg.Address, cfg.Scheme, cfg.Token and
// cfg.HttpClient (so CONSUL_HTTP_ADDR and CONSUL_HTTP_TOKEN, read by
// consulapi.DefaultConfig(), take effect). cfg.TLSConfig and
// cfg.Transport are not applied: without cfg.HttpClient the transport is
// go-cleanhttp's pooled default. A nil cfg uses consulapi.DefaultConfig().
func NewConsulRegistryClient(cfg *consulapi.Config) (*ConsulRegistryClient, error) {
	if cfg == nil {
		cfg = consulapi.DefaultConfig()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("consul registry client: address must not be empty")
	}

	httpClient := cfg.HttpClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}

	return &ConsulRegistryClient{
		address:    cfg.Address,
		scheme:     scheme,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

func (c *ConsulRegistryClient) HealthService(ctx context.Context, service string, waitIndex uint64, waitTime time.Duration) (interface{}, ConsulHeaders, error) {
	u := url.URL{
		Scheme: c.scheme,
		Host:   c.address,
		Path:   "/v1/health/service/" + service,
	}
	q := u.Query()
	if waitIndex > 0 {
		q.Set("index", strconv.FormatUint(waitIndex, 10))
		q.Set("wait", waitTime.String())
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ConsulHeaders{}, err
	}
	if c.token != "" {
		req.Header.Set("X-Consul-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ConsulHeaders{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ConsulHeaders{}, fmt.Errorf("unexpected response code %d from %s", resp.StatusCode, u.Path)
	}

	headers := parseConsulHeaders(resp.Header)

	var payload interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, headers, fmt.Errorf("decode health service response: %w", err)
	}

	return payload, headers, nil
}

func parseConsulHeaders(h http.Header) ConsulHeaders {
	var headers ConsulHeaders
	if v := h.Get("X-Consul-Index"); v != "" {
		if idx, err := strconv.ParseUint(v, 10, 64); err == nil {
			headers.LastIndex = idx
		}
	}
	if v := h.Get("X-Consul-Knownleader"); v != "" {
		headers.KnownLeader, _ = strconv.ParseBool(v)
	}
	if v := h.Get("X-Consul-Lastcontact"); v != "" {
		if ms, err := strconv.ParseUint(v, 10, 64); err == nil {
			headers.LastContact = time.Duration(ms) * time.Millisecond
		}
	}
	return headers
}
