package notification

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/blankon/irgsh-repod/internal/config"
	"github.com/blankon/irgsh-repod/pkg/httputil"
)

// ClientConfig holds the callback endpoint settings.
type ClientConfig struct {
	URL       string
	User      string
	Key       string
	VerifySSL bool
	Timeout   time.Duration
}

// ClientConfigFrom extracts the callback settings of cfg.
func ClientConfigFrom(cfg config.Config) ClientConfig {
	return ClientConfig{
		URL:       cfg.CallbackURL,
		User:      cfg.CallbackUser,
		Key:       cfg.CallbackKey,
		VerifySSL: cfg.CallbackVerifySSL,
		Timeout:   cfg.CallbackTimeoutDuration(),
	}
}

// Client posts state changes to the callback endpoint.
type Client struct {
	cfg  ClientConfig
	rest *resty.Client
}

// NewClient creates a callback client.
func NewClient(cfg ClientConfig) *Client {
	rest := resty.New().
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: !cfg.VerifySSL}).
		SetDisableWarn(true)
	if cfg.Timeout > 0 {
		rest.SetTimeout(cfg.Timeout)
	}
	return &Client{cfg: cfg, rest: rest}
}

// TargetURL resolves where a callback for project goes. An explicit url wins,
// otherwise the project name is appended to the configured callback URL with
// a trailing slash. Empty means callbacks are disabled.
func (c *Client) TargetURL(project, url string) string {
	if url != "" {
		return url
	}
	if c.cfg.URL == "" {
		return ""
	}
	return strings.TrimRight(c.cfg.URL, "/") + "/" + project + "/"
}

// Send delivers payload once. It returns nil without any request when no
// callback URL is configured.
func (c *Client) Send(ctx context.Context, payload interface{}, project, url string) error {
	target := c.TargetURL(project, url)
	if target == "" {
		return nil
	}
	if c.cfg.User == "" || c.cfg.Key == "" {
		return &PermanentError{Op: "authenticate", Err: ErrMissingCredentials}
	}

	body, err := httputil.JSONBody(payload)
	if err != nil {
		return &PermanentError{Op: "serialize", Err: err}
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.User, c.cfg.Key).
		SetHeader("Content-type", "application/json").
		SetBody(body).
		Post(target)
	if err != nil {
		return &PermanentError{Op: "post", Err: err}
	}
	if resp.IsError() {
		return &RetryableError{Err: httputil.HTTPStatusError{StatusCode: resp.StatusCode(), URL: target}}
	}
	return nil
}
