package testutil

import (
	"context"
	"encoding/json"

	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

const (
	// TestIterations keeps password derivation fast in tests.
	TestIterations = 1000
	// TestSignatureAlgorithm keeps key generation fast in tests.
	TestSignatureAlgorithm = "RSA;1024"
)

// Account is an identity registered on a Server.
type Account struct {
	Username  string
	Password  string
	Root      *crypto.Symmetric
	Signature *crypto.Signature
	UserData  store.UserData
}

// NewClient returns a client for the server that does not retry.
func (s *Server) NewClient() *api.Client {
	c := api.NewClient(s.URL, false)
	c.HTTPClient.RetryMax = 0

	return c
}

// Register creates an account and leaves c signed in as it.
func (s *Server) Register(ctx context.Context, c *api.Client, username, password string) (*Account, error) {
	root, err := crypto.NewSymmetric(crypto.DefaultSymmetricAlgorithm)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.NewSignature(TestSignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	ud := store.UserData{RootNote: newID(), RootKey: newID(), CreateComplete: true}

	b, err := json.Marshal(ud)
	if err != nil {
		return nil, err
	}

	data, err := root.Encrypt(string(b), false)
	if err != nil {
		return nil, err
	}

	pw, err := api.NewPasswordInfo(password, TestIterations)
	if err != nil {
		return nil, err
	}

	account, err := api.SealAccount(password, TestIterations, pw, root, sig, data)
	if err != nil {
		return nil, err
	}

	c.SetIdentity(username, sig)

	if err = c.CreateAccount(ctx, account, ""); err != nil {
		return nil, err
	}

	return &Account{
		Username:  username,
		Password:  password,
		Root:      root,
		Signature: sig,
		UserData:  ud,
	}, nil
}
