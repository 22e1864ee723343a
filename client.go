// Package signet is a client for the signet wallet sign-in server.
package signet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/signet/adapters/verifier"
	"github.com/layer-3/signet/core"
)

const messageVersion = "1"

// Session describes the server session the client holds
type Session struct {
	Address   string
	SessionID string
	ExpiresAt time.Time
}

// Client signs in against a signet server and keeps the resulting token.
// The token is sent as a bearer header and the server's cookies are kept in a
// jar so both transports work.
type Client struct {
	base      *url.URL
	http      *http.Client
	signer    Signer
	state     *AuthState
	domain    string
	statement string
	chainID   string
	now       func() time.Time

	mu    sync.Mutex
	token string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default client. Cookies only persist when it has a jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDomain sets the domain placed in the sign-in message. It defaults to the
// server host and must equal the domain the server expects.
func WithDomain(domain string) Option {
	return func(c *Client) { c.domain = domain }
}

// WithStatement sets the human readable line shown by the wallet
func WithStatement(statement string) Option {
	return func(c *Client) { c.statement = statement }
}

// WithChainID sets the chain id; Ethereum signers default to mainnet ("1")
func WithChainID(chainID string) Option {
	return func(c *Client) { c.chainID = chainID }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, signer Signer, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Jar: jar, Timeout: 30 * time.Second},
		signer: signer,
		state:  NewAuthState(),
		domain: base.Host,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State is the client's auth state store
func (c *Client) State() *AuthState {
	return c.state
}

// Token returns the current session token, empty when signed out
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SignIn requests a nonce, signs the sign-in message and exchanges it for a session
func (c *Client) SignIn(ctx context.Context) (*Session, error) {
	c.state.set(State{Status: StatusSigningIn, Address: c.signer.Address()})

	session, err := c.signIn(ctx)
	if err != nil {
		c.state.set(State{Status: StatusError, Address: c.signer.Address(), Err: err})
		return nil, err
	}
	c.state.set(State{
		Status:    StatusSignedIn,
		Address:   session.Address,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
	})
	return session, nil
}

func (c *Client) signIn(ctx context.Context) (*Session, error) {
	address := c.signer.Address()
	chain, err := verifier.DetectChain(address)
	if err != nil {
		return nil, err
	}

	var nonce struct {
		Nonce string `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/nonce", map[string]string{"address": address}, &nonce); err != nil {
		return nil, fmt.Errorf("requesting nonce: %w", err)
	}

	chainID := c.chainID
	if chainID == "" && chain == core.ChainEthereum {
		chainID = "1"
	}
	raw := verifier.FormatMessage(core.SignedMessage{
		Chain:     chain,
		Domain:    c.domain,
		Address:   address,
		Statement: c.statement,
		URI:       c.base.String(),
		Version:   messageVersion,
		ChainID:   chainID,
		Nonce:     nonce.Nonce,
		IssuedAt:  c.now().UTC(),
	})
	signature, err := c.signer.SignMessage([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}

	var verified struct {
		JWT       string    `json:"jwt"`
		Address   string    `json:"address"`
		SessionID string    `json:"sessionId"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	body := map[string]string{"message": raw, "signature": signature}
	if err := c.do(ctx, http.MethodPost, "/auth/verify", body, &verified); err != nil {
		return nil, fmt.Errorf("verifying signature: %w", err)
	}
	c.setToken(verified.JWT)

	return &Session{
		Address:   verified.Address,
		SessionID: verified.SessionID,
		ExpiresAt: verified.ExpiresAt,
	}, nil
}

// Check asks the server whether the held session is still valid. A rejected
// session moves the state to signed out.
func (c *Client) Check(ctx context.Context) (*Session, error) {
	if c.Token() == "" {
		return nil, ErrNotSignedIn
	}

	var resp struct {
		Valid     bool   `json:"valid"`
		Address   string `json:"address"`
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.setToken("")
			c.state.set(State{Status: StatusSignedOut, Err: err})
		}
		return nil, err
	}

	current := c.state.Current()
	session := &Session{Address: resp.Address, SessionID: resp.SessionID, ExpiresAt: current.ExpiresAt}
	if current.Status != StatusSignedIn || current.SessionID != resp.SessionID {
		c.state.set(State{Status: StatusSignedIn, Address: resp.Address, SessionID: resp.SessionID, ExpiresAt: current.ExpiresAt})
	}
	return session, nil
}

// SignOut revokes the session on the server. The local token and state are
// cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.setToken("")
	c.state.set(State{Status: StatusSignedOut})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error == "" {
			failure.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: failure.Error, Reason: failure.Reason}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}
