package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/log"
)

// KeySigner resolves the signing key of a note key by name.
type KeySigner interface {
	KeySignature(name string) *crypto.Signature
}

// Client speaks the signed JSON protocol. SetIdentity must be called before
// any signed request.
type Client struct {
	Server     string
	HTTPClient *retryablehttp.Client
	Version    string
	Debug      bool

	// ServerKey, when set, seals account create and update bodies.
	ServerKeyID string
	ServerKey   *crypto.Signature

	mu        sync.RWMutex
	username  string
	signature *crypto.Signature
}

func NewClient(server string, debug bool) *Client {
	if server == "" {
		server = common.APIServer
	}

	return &Client{
		Server:     server,
		HTTPClient: common.NewHTTPClient(),
		Version:    common.ClientVersion,
		Debug:      debug,
	}
}

// SetIdentity sets the username and root signature used for "user" signatures.
func (c *Client) SetIdentity(username string, signature *crypto.Signature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = username
	c.signature = signature
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.username
}

func (c *Client) identity() (string, *crypto.Signature) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.username, c.signature
}

func newBasicRequest(username string) BasicRequest {
	return BasicRequest{
		Username:  username,
		Timestamp: common.Now(),
		RequestID: uuid.New().String(),
	}
}

// basic returns a fresh BasicRequest for the current identity.
func (c *Client) basic() (BasicRequest, error) {
	username, sig := c.identity()
	if sig == nil {
		return BasicRequest{}, ErrNotAuthenticated
	}

	return newBasicRequest(username), nil
}

func (c *Client) signUser(req crypto.Signable) error {
	_, sig := c.identity()
	if sig == nil {
		return ErrNotAuthenticated
	}

	return sig.Sign(common.SignatureNameUser, req)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	url := c.Server + path

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}

	req.Header.Set(common.HeaderContentType, common.APIContentType)
	req.Header.Set(common.HeaderVersion, c.Version)

	start := time.Now()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	log.DebugPrint(c.Debug, fmt.Sprintf("%s %s | request took: %v", method, path, time.Since(start)), common.MaxDebugChars)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &HTTPRequestError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s to %s failed", method, path),
		}
	}

	log.DebugPrint(c.Debug, fmt.Sprintf("%s | server version %s | %s", path, resp.Header.Get(common.HeaderVersion), string(respBody)), common.MaxDebugChars)

	if out == nil || len(respBody) == 0 {
		return nil
	}

	return json.Unmarshal(respBody, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, data interface{}, out interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return c.do(ctx, http.MethodPost, path, bytes.NewBuffer(b), out)
}

// postSealed posts data sealed to the server key when one is configured.
func (c *Client) postSealed(ctx context.Context, path string, data interface{}, out interface{}) error {
	if c.ServerKey == nil {
		return c.post(ctx, path, data, out)
	}

	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sealed, err := c.ServerKey.Encrypt(string(b))
	if err != nil {
		return fmt.Errorf("postSealed | %w", err)
	}

	return c.post(ctx, path, EncryptedRequest{KeyID: c.ServerKeyID, Data: sealed}, out)
}
