// ABOUTME: Identity provider client for app-only and on-behalf-of token acquisition
// ABOUTME: Wraps golang.org/x/oauth2 grants with an optional per-tenant app token cache

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Token request flows, used in errors and metrics.
const (
	FlowApp         = "app"
	FlowOnBehalfOf  = "obo"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	commonTenant    = "common"
	cacheSkew       = time.Minute
	cachePurgeEvery = 10 * time.Minute
)

// Token is an access token issued by the identity provider.
type Token struct {
	AccessToken string
	Scopes      []string
	Expiry      time.Time
}

// Recorder receives one observation per token request.
type Recorder interface {
	RecordTokenRequest(flow, result string)
}

// Config holds the application credential and endpoint settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string // used for on-behalf-of; "common" when empty
	AuthorityURL string // e.g. https://login.microsoftonline.com
	AppScope     string // e.g. https://graph.microsoft.com/.default
	CacheTokens  bool
	HTTPClient   *http.Client
	Recorder     Recorder
}

// Client acquires tokens from the identity provider.
type Client struct {
	cfg        Config
	authority  string
	httpClient *http.Client
	cache      *gocache.Cache
	flights    singleflight.Group // concurrent app token misses per cache key
	logger     *slog.Logger
}

// NewClient creates a Client. App token caching is off unless cfg.CacheTokens is set.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		cfg:        cfg,
		authority:  strings.TrimRight(cfg.AuthorityURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "identity"),
	}
	if cfg.CacheTokens {
		c.cache = gocache.New(gocache.NoExpiration, cachePurgeEvery)
	}
	return c
}

func (c *Client) tokenURL(tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authority, url.PathEscape(tenantID))
}

// GetAppToken acquires an application-only token for the tenant using the
// client-credentials grant and the configured directory scope.
func (c *Client) GetAppToken(ctx context.Context, tenantID string) (Token, error) {
	if tenantID == "" {
		return Token{}, &Error{Flow: FlowApp, Code: "missing_tenant", Err: errors.New("tenant id is required")}
	}

	if c.cache == nil {
		return c.fetchAppToken(ctx, tenantID)
	}

	key := tenantID + "|" + c.cfg.AppScope
	if v, ok := c.cache.Get(key); ok {
		c.record(FlowApp, "cached")
		return v.(Token), nil
	}

	// With caching on, concurrent misses for the same key share one request.
	// The shared request outlives any single caller's cancellation.
	ch := c.flights.DoChan(key, func() (any, error) {
		tok, err := c.fetchAppToken(context.WithoutCancel(ctx), tenantID)
		if err != nil {
			return Token{}, err
		}
		if !tok.Expiry.IsZero() {
			if ttl := time.Until(tok.Expiry) - cacheSkew; ttl > 0 {
				c.cache.Set(key, tok, ttl)
			}
		}
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		c.record(FlowApp, "canceled")
		return Token{}, fmt.Errorf("%s token request: %w", FlowApp, ctx.Err())
	}
}

func (c *Client) fetchAppToken(ctx context.Context, tenantID string) (Token, error) {
	conf := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.tokenURL(tenantID),
		Scopes:       []string{c.cfg.AppScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := c.retrieve(ctx, FlowApp, conf)
	if err != nil {
		return Token{}, err
	}

	c.logger.Debug("acquired app token", "tenant_id", tenantID)
	return tok, nil
}

// ExchangeOnBehalfOf swaps a user's token for one carrying the given delegated scopes.
func (c *Client) ExchangeOnBehalfOf(ctx context.Context, userToken string, scopes []string) (Token, error) {
	if userToken == "" {
		return Token{}, &Error{Flow: FlowOnBehalfOf, Code: "missing_assertion", Err: errors.New("user token is required")}
	}

	tenant := c.cfg.TenantID
	if tenant == "" {
		tenant = commonTenant
	}

	conf := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.tokenURL(tenant),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type":          {jwtBearerGrant},
			"assertion":           {userToken},
			"requested_token_use": {"on_behalf_of"},
		},
	}

	tok, err := c.retrieve(ctx, FlowOnBehalfOf, conf)
	if err != nil {
		return Token{}, err
	}
	c.logger.Debug("exchanged user token", "scopes", strings.Join(scopes, " "))
	return tok, nil
}

func (c *Client) retrieve(ctx context.Context, flow string, conf *clientcredentials.Config) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	ot, err := conf.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.record(flow, "canceled")
			return Token{}, fmt.Errorf("%s token request: %w", flow, ctxErr)
		}
		c.record(flow, "rejected")
		return Token{}, classify(flow, err)
	}

	c.record(flow, "ok")
	return Token{
		AccessToken: ot.AccessToken,
		Scopes:      grantedScopes(ot, conf.Scopes),
		Expiry:      ot.Expiry,
	}, nil
}

func (c *Client) record(flow, result string) {
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.RecordTokenRequest(flow, result)
	}
}

func classify(flow string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &Error{
			Flow:        flow,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Consent:     isConsentError(re.ErrorCode, re.ErrorDescription),
			Err:         err,
		}
	}
	return &Error{Flow: flow, Err: err}
}

// grantedScopes prefers the scope list echoed by the provider over the requested one.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return append([]string(nil), requested...)
}
