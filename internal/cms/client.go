// Package cms - клиент REST API цифровой signage-CMS: токен client-credentials,
// circuit breaker, повтор временных ошибок и кэш GET-ответов с инвалидацией по ресурсу.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"signdesk/internal/breaker"
	"signdesk/internal/cache"
	"signdesk/internal/logs"
	"signdesk/internal/metrics"
	"signdesk/internal/retry"
)

const (
	cacheNamespace = "cms"
	tokenPath      = "/api/authorize/access_token"
	maxBody        = 8 << 20
	maxErrBody     = 512
)

// Credentials: адрес CMS и OAuth2-клиент.
type Credentials struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

func (c Credentials) Complete() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// CredentialSource отдаёт актуальные учётные данные (обычно из зашифрованных settings).
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials: фиксированные учётные данные (тесты, проверка соединения).
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

type Options struct {
	Credentials CredentialSource
	HTTPClient  *http.Client
	Cache       *cache.Cache     // nil - без кэша
	Breaker     *breaker.Breaker // nil - breaker по умолчанию
	Retry       *retry.Policy    // nil - retry.Default()
	TokenMargin time.Duration    // токен считается истёкшим на столько раньше; default 60s
	CacheTTL    time.Duration    // 0 - TTL кэша
	Now         func() time.Time
}

type Client struct {
	creds   CredentialSource
	http    *http.Client
	cache   *cache.Cache
	breaker *breaker.Breaker
	retry   retry.Policy
	margin  time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	token     string
	tokenExp  time.Time
	tokenBase string
}

func New(opts Options) *Client {
	c := &Client{
		creds:   opts.Credentials,
		http:    opts.HTTPClient,
		cache:   opts.Cache,
		breaker: opts.Breaker,
		margin:  opts.TokenMargin,
		ttl:     opts.CacheTTL,
		now:     opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.breaker == nil {
		c.breaker = breaker.New(breaker.Options{})
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	} else {
		c.retry = retry.Default()
	}
	if c.margin <= 0 {
		c.margin = 60 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	userHook := c.retry.OnRetry
	c.retry.OnRetry = func(attempt int, d time.Duration, err error) {
		metrics.CMSRetries.Inc()
		logs.Component("cms").WithError(err).WithField("attempt", attempt).WithField("delay", d).Warn("retrying")
		if userHook != nil {
			userHook(attempt, d, err)
		}
	}
	return c
}

func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// ClearToken сбрасывает кэшированный токен (401, смена учётных данных).
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.tokenBase = ""
	c.mu.Unlock()
}

// Do выполняет запрос к {base}/api{path}. GET обслуживается из кэша, мутации его инвалидируют.
func (c *Client) Do(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	method = strings.ToUpper(method)
	cacheable := method == http.MethodGet && c.cache != nil
	var key string
	if cacheable {
		key = cache.Key(cacheNamespace, path, query)
		v, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			logs.Component("cms").WithError(err).WithField("key", key).Warn("cache read failed")
		}
		if ok {
			return v, nil
		}
	}

	body, err := c.call(ctx, method, path, query, form)
	if err != nil {
		return nil, err
	}

	switch {
	case cacheable:
		if err := c.cache.Set(ctx, key, body, c.ttl); err != nil {
			logs.Component("cms").WithError(err).WithField("key", key).Warn("cache write failed")
		}
	case method != http.MethodGet && c.cache != nil:
		prefix := cache.Prefix(cacheNamespace, path)
		if err := c.cache.InvalidatePrefix(ctx, prefix); err != nil {
			logs.Component("cms").WithError(err).WithField("prefix", prefix).Error("cache invalidation failed")
		}
	}
	return body, nil
}

// call: breaker -> retry -> авторизованный обмен. POST не повторяется: CMS может создать дубль.
func (c *Client) call(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	if !c.breaker.CanAttempt() {
		metrics.CMSRequests.WithLabelValues(method, "breaker_open").Inc()
		return nil, breaker.ErrOpen
	}
	policy := c.retry
	if method == http.MethodPost {
		policy.Delays = nil
	}
	body, err := retry.DoValue(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.authorized(ctx, method, path, query, form)
	})
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		metrics.CMSRequests.WithLabelValues(method, "ok").Inc()
	case errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrInvalidRequest) || ctx.Err() != nil:
		// не говорит о здоровье CMS
	case retry.IsRetryable(err):
		c.breaker.RecordFailure()
		metrics.CMSRequests.WithLabelValues(method, statusLabel(err)).Inc()
	default:
		c.breaker.RecordSuccess()
		metrics.CMSRequests.WithLabelValues(method, statusLabel(err)).Inc()
	}
	return body, err
}

// authorized: один обмен; при 401 токен сбрасывается и запрос повторяется ровно один раз.
func (c *Client) authorized(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	body, err := c.exchange(ctx, method, path, query, form)
	if !IsStatus(err, http.StatusUnauthorized) {
		return body, err
	}
	logs.Component("cms").WithField("path", path).Info("token rejected, re-authenticating")
	c.ClearToken()
	return c.exchange(ctx, method, path, query, form)
}

func (c *Client) exchange(ctx context.Context, method, path string, query, form url.Values) ([]byte, error) {
	tok, base, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := base + "/api" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if form != nil {
		rdr = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		// %v: *url.Error выглядит как net.Error и попал бы под повтор
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidRequest, method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &APIError{Method: method, Path: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Method: method, Path: path, Body: truncate(body)}
	}
	return body, nil
}

// accessToken возвращает кэшированный токен или получает новый.
func (c *Client) accessToken(ctx context.Context) (token, base string, err error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		token, base = c.token, c.tokenBase
		c.mu.Unlock()
		return token, base, nil
	}
	c.mu.Unlock()

	if c.creds == nil {
		return "", "", ErrNotConfigured
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return "", "", err
	}
	if !creds.Complete() {
		return "", "", ErrNotConfigured
	}
	base = strings.TrimRight(creds.BaseURL, "/")
	if err := checkBaseURL(base); err != nil {
		return "", "", err
	}

	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     base + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	t, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return "", "", tokenError(err)
	}

	exp := t.Expiry
	if exp.IsZero() {
		exp = c.now().Add(time.Hour)
	}
	exp = exp.Add(-c.margin)

	c.mu.Lock()
	c.token, c.tokenExp, c.tokenBase = t.AccessToken, exp, base
	c.mu.Unlock()
	return t.AccessToken, base, nil
}

func checkBaseURL(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%w: base url: %v", ErrInvalidRequest, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be http(s)://host", ErrInvalidRequest, base)
	}
	return nil
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &APIError{
			Status: re.Response.StatusCode,
			Method: http.MethodPost,
			Path:   tokenPath,
			Body:   truncate(re.Body),
			Err:    err,
		}
	}
	return &APIError{Method: http.MethodPost, Path: tokenPath, Err: err}
}

// getJSON: GET с декодированием ответа в out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cms: decode %s: %w", path, err)
	}
	return nil
}

// sendJSON: мутация с form-телом; out может быть nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	if method == http.MethodDelete {
		form = nil
	}
	body, err := c.Do(ctx, method, path, nil, form)
	if err != nil {
		return err
	}
	if out == nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cms: decode %s %s: %w", method, path, err)
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrBody {
		cut := maxErrBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}

func statusLabel(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return strconv.Itoa(ae.Status)
	}
	return "error"
}
