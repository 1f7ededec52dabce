package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// compile-time check that *Client implements repository.Repository
var _ repository.Repository = (*Client)(nil)

// DefaultTimeout bounds a single attempt against the store.
const DefaultTimeout = 5 * time.Second

// readAttempts is how many times an idempotent GET is tried.
const readAttempts = 2

// ErrRejectedCredentials means the store, or its token endpoint, refused the
// configured API key or client credentials. Retrying or falling back will not
// help; the configuration is wrong.
var ErrRejectedCredentials = errors.New("store rejected credentials")

// Config describes how to reach a document store.
//
// Authentication is optional. With TokenURL set, the client obtains bearer
// tokens through the OAuth2 client-credentials flow; otherwise a non-empty
// APIKey is sent as a static bearer token.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	APIKey       string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Client is a repository.Repository backed by a remote document store.
type Client struct {
	base      *url.URL
	http      *http.Client
	transport *http.Transport
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds a client. It does not contact the store; call Ping for that.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported URL scheme %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Each client owns its transport so Close only drops its own connections.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	plain := &http.Client{Transport: transport}

	// oauth2 picks the underlying client out of the context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)

	httpClient := plain
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(ctx)
	case cfg.APIKey != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey}))
	}

	return &Client{
		base:      base,
		http:      httpClient,
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

func (c *Client) Backend() string { return "remote" }

// Close releases idle connections. The store itself is not affected.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// Ping checks that the store answers /healthz and then that it accepts our
// credentials on an authenticated route, one attempt each. A store that is up
// but refuses the credentials yields ErrRejectedCredentials.
func (c *Client) Ping(ctx context.Context) error {
	var health healthBody
	if err := c.once(ctx, "ping", http.MethodGet, pathHealth, nil, nil, &health); err != nil {
		return err
	}
	if health.Status != "ok" {
		return apperror.BackendUnavailable("ping", fmt.Errorf("store reports status %q", health.Status))
	}

	var sample json.RawMessage
	return c.once(ctx, "ping", http.MethodGet, pathPosts, url.Values{"limit": {"1"}}, nil, &sample)
}

// ---- accounts ----

func (c *Client) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	var created model.Account
	if err := c.write(ctx, "creating account", pathAccounts, account, &created); err != nil {
		return err
	}
	account.ID = created.ID
	account.CreatedAt = created.CreatedAt
	return nil
}

func (c *Client) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return c.lookup(ctx, "finding account by email", url.Values{"email": {email}})
}

func (c *Client) FindAccountByName(ctx context.Context, name string) (*model.Account, error) {
	return c.lookup(ctx, "finding account by name", url.Values{"name": {name}})
}

// lookup turns the store's 404 into "absent". Any other failure stays an error.
func (c *Client) lookup(ctx context.Context, op string, q url.Values) (*model.Account, error) {
	var a model.Account
	err := c.read(ctx, op, pathAccountLookup, q, &a)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if err := c.read(ctx, "getting account", pathAccounts+"/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListAccounts(ctx context.Context, filter repository.AccountFilter) ([]model.Account, error) {
	if !filter.Kind.Valid() {
		return nil, apperror.ValidationFailed("kind",
			fmt.Sprintf("kind must be %q or %q", model.KindPerson, model.KindBusiness))
	}
	q := url.Values{"kind": {string(filter.Kind)}}
	if filter.ExcludeID != "" {
		q.Set("exclude", filter.ExcludeID)
	}
	accounts := make([]model.Account, 0)
	if err := c.read(ctx, "listing accounts", pathAccounts, q, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ---- posts ----

func (c *Client) CreatePost(ctx context.Context, post *model.Post) error {
	if err := post.Validate(); err != nil {
		return err
	}
	var created model.Post
	if err := c.write(ctx, "creating post", pathPosts, post, &created); err != nil {
		return err
	}
	post.ID = created.ID
	post.CreatedAt = created.CreatedAt
	return nil
}

func (c *Client) ListRecentPosts(ctx context.Context, limit int) ([]model.FeedPost, error) {
	q := url.Values{"limit": {strconv.Itoa(repository.ClampFeedLimit(limit))}}
	feed := make([]model.FeedPost, 0)
	if err := c.read(ctx, "listing posts", pathPosts, q, &feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// ---- messages ----

func (c *Client) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	var created model.Message
	if err := c.write(ctx, "creating message", pathMessages, msg, &created); err != nil {
		return err
	}
	msg.ID = created.ID
	msg.CreatedAt = created.CreatedAt
	return nil
}

func (c *Client) ListConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	conv := make([]model.Message, 0)
	if err := c.read(ctx, "listing conversation", pathMessages, url.Values{"a": {a}, "b": {b}}, &conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ---- transport ----

// read performs a GET, retrying once when the store was unreachable.
// Errors the store reported deliberately (404, 400, ...) are not retried.
func (c *Client) read(ctx context.Context, op, path string, q url.Values, out any) error {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		err = c.once(ctx, op, http.MethodGet, path, q, nil, out)
		if err == nil || !errors.Is(err, apperror.ErrBackendUnavailable) || ctx.Err() != nil {
			return err
		}
		if attempt < readAttempts {
			c.logger.Warn("document store read failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
	}
	return err
}

// write performs a single POST. A timed-out write may have been applied, so
// it is reported as unavailable and never repeated.
func (c *Client) write(ctx context.Context, op, path string, body, out any) error {
	return c.once(ctx, op, http.MethodPost, path, nil, body, out)
}

// once runs a single request under its own timeout and decodes the response.
func (c *Client) once(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: %s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("remote: %s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return fmt.Errorf("remote: %s: %w: token endpoint returned %s",
				op, ErrRejectedCredentials, retrieveErr.Response.Status)
		}
		return apperror.BackendUnavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperror.BackendUnavailable(op, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	return c.statusError(op, resp)
}

// statusError converts a non-2xx response into the matching apperror.
func (c *Client) statusError(op string, resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&eb)

	switch {
	case resp.StatusCode >= 500:
		return apperror.BackendUnavailable(op, fmt.Errorf("store returned %s", resp.Status))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The store rejected our credentials. That is a deployment problem,
		// not something to report to the end user as their own auth failure.
		return fmt.Errorf("remote: %s: %w: %s", op, ErrRejectedCredentials, resp.Status)
	}

	if appErr := apperror.FromKind(eb.Error, eb.Message, eb.Field); appErr != nil {
		return appErr
	}
	return fmt.Errorf("remote: %s: unexpected response %s", op, resp.Status)
}
