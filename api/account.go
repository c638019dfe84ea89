package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
)

func (c *Client) PreLogin(ctx context.Context, username string) (*PreLoginResponse, error) {
	path := fmt.Sprintf("%s%s?q=%s", common.PreLoginPath, url.PathEscape(username), strconv.FormatInt(time.Now().UnixMilli(), 10))

	var out PreLoginResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("PreLogin | %w", err)
	}

	return &out, nil
}

// PasswordResponse answers the pre-login challenge of username with password.
// It returns the challenge response, the hash length and the pre-login
// parameters it was computed from.
func (c *Client) PasswordResponse(ctx context.Context, username, password string) (response string, hashLength int, pre *PreLoginResponse, err error) {
	pre, err = c.PreLogin(ctx, username)
	if err != nil {
		return
	}

	hash, err := crypto.HashPassword(password, pre.Salt, pre.Algorithm, pre.Iterations)
	if err != nil {
		return "", 0, nil, fmt.Errorf("PasswordResponse | %w", err)
	}

	response, err = crypto.ComputeResponse(hash, pre.Challenge)
	if err != nil {
		return "", 0, nil, fmt.Errorf("PasswordResponse | %w", err)
	}

	return response, len(hash) / 2, pre, nil
}

// Authenticate performs the pre-login exchange followed by login.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*LoginResponse, error) {
	response, hashLength, pre, err := c.PasswordResponse(ctx, username, password)
	if err != nil {
		return nil, err
	}

	out := LoginResponse{PreLogin: pre}
	if err = c.post(ctx, common.LoginPath, LoginRequest{
		Username:   username,
		Response:   response,
		HashLength: hashLength,
	}, &out); err != nil {
		return nil, fmt.Errorf("Authenticate | %w", err)
	}

	return &out, nil
}

// GetUserData fetches the user data blob and usage. A successful call also
// proves the cached identity is still accepted.
func (c *Client) GetUserData(ctx context.Context) (*UserDataResponse, error) {
	req, err := c.basic()
	if err != nil {
		return nil, err
	}

	if err = c.signUser(&req); err != nil {
		return nil, err
	}

	var out UserDataResponse
	if err = c.post(ctx, common.GetDataPath, &req, &out); err != nil {
		return nil, fmt.Errorf("GetUserData | %w", err)
	}

	return &out, nil
}

func (c *Client) UsernameAvailable(ctx context.Context, username, pow string) (*CheckUsernameResponse, error) {
	var out CheckUsernameResponse
	if err := c.post(ctx, common.UserAvailablePath, CheckUsernameRequest{
		Username:  username,
		Pow:       pow,
		Timestamp: common.Now(),
		RequestID: uuid.New().String(),
	}, &out); err != nil {
		return nil, fmt.Errorf("UsernameAvailable | %w", err)
	}

	return &out, nil
}

// CreateAccount registers the current identity with the given key material.
func (c *Client) CreateAccount(ctx context.Context, data AccountData, pow string) error {
	basic, err := c.basic()
	if err != nil {
		return err
	}

	req := &CreateUserRequest{BasicRequest: basic, AccountData: data, Pow: pow}
	if err = c.signUser(req); err != nil {
		return err
	}

	if err = c.postSealed(ctx, common.CreateUserPath, req, nil); err != nil {
		return fmt.Errorf("CreateAccount | %w", err)
	}

	return nil
}

// UpdateAccount renames the account and replaces its key material. The
// response must answer the challenge of the current username.
func (c *Client) UpdateAccount(ctx context.Context, newUsername, response string, hashLength int, data AccountData) error {
	oldUsername, sig := c.identity()
	if sig == nil {
		return ErrNotAuthenticated
	}

	if newUsername == "" {
		newUsername = oldUsername
	}

	req := &UpdateUserRequest{
		BasicRequest: newBasicRequest(newUsername),
		AccountData:  data,
		OldUsername:  oldUsername,
		Response:     response,
		HashLength:   hashLength,
	}

	if err := sig.Sign(common.SignatureNameUser, req); err != nil {
		return err
	}

	if err := sig.Sign(common.SignatureNameOldUser, req); err != nil {
		return err
	}

	if err := c.postSealed(ctx, common.UpdateUserPath, req, nil); err != nil {
		return fmt.Errorf("UpdateAccount | %w", err)
	}

	c.SetIdentity(newUsername, sig)

	return nil
}

// UpdateUserData replaces the root-encrypted user data blob.
func (c *Client) UpdateUserData(ctx context.Context, data string) error {
	basic, err := c.basic()
	if err != nil {
		return err
	}

	req := &UpdateUserDataRequest{BasicRequest: basic, Data: data}
	if err = c.signUser(req); err != nil {
		return err
	}

	if err = c.post(ctx, common.UpdateUserDataPath, req, nil); err != nil {
		return fmt.Errorf("UpdateUserData | %w", err)
	}

	return nil
}

func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	username, _ := c.identity()

	response, hashLength, _, err := c.PasswordResponse(ctx, username, password)
	if err != nil {
		return err
	}

	basic, err := c.basic()
	if err != nil {
		return err
	}

	req := &DeleteAccountRequest{BasicRequest: basic, Response: response, HashLength: hashLength}
	if err = c.signUser(req); err != nil {
		return err
	}

	if err = c.post(ctx, common.DeleteUserPath, req, nil); err != nil {
		return fmt.Errorf("DeleteAccount | %w", err)
	}

	return nil
}
