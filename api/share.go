package api

import (
	"context"
	"fmt"

	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
)

func (c *Client) GetPublicKey(ctx context.Context, keyOwnerName, pow string) (*PublicKeyResponse, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	req := &PublicKeyRequest{BasicRequest: basic, Pow: pow, KeyOwnerName: keyOwnerName}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	var out PublicKeyResponse
	if err = c.post(ctx, common.PublicKeyPath, req, &out); err != nil {
		return nil, fmt.Errorf("GetPublicKey | %w", err)
	}

	return &out, nil
}

// ShareNote posts an offer of keyName to recipient. data is already sealed
// to the recipient; keySig proves authority over the shared key.
func (c *Client) ShareNote(ctx context.Context, recipient, keyName, data string, keySig *crypto.Signature) (string, error) {
	basic, err := c.basic()
	if err != nil {
		return "", err
	}

	req := &ShareNoteRequest{BasicRequest: basic, Recipient: recipient, KeyName: keyName, Data: data}
	if err = c.signUser(req); err != nil {
		return "", err
	}

	if err = keySig.Sign(common.SignatureNameKey, req); err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	var out ShareResponse
	if err = c.post(ctx, common.ShareNotePath, req, &out); err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	return out.Code, nil
}

func (c *Client) GetShareOffers(ctx context.Context, code string) ([]ShareOffer, error) {
	basic, err := c.basic()
	if err != nil {
		return nil, err
	}

	req := &ShareOfferRequest{BasicRequest: basic, Code: code}
	if err = c.signUser(req); err != nil {
		return nil, err
	}

	var out ShareOffersResponse
	if err = c.post(ctx, common.ShareOfferPath, req, &out); err != nil {
		return nil, fmt.Errorf("GetShareOffers | %w", err)
	}

	return out.Offers, nil
}

func (c *Client) DeleteShareOffer(ctx context.Context, id string) error {
	basic, err := c.basic()
	if err != nil {
		return err
	}

	req := &DeleteShareRequest{BasicRequest: basic, ID: id}
	if err = c.signUser(req); err != nil {
		return err
	}

	if err = c.post(ctx, common.DeleteSharePath, req, nil); err != nil {
		return fmt.Errorf("DeleteShareOffer | %w", err)
	}

	return nil
}

// CreateNotificationURL returns the push hub url and its access token.
func (c *Client) CreateNotificationURL(ctx context.Context) (*NotificationURLResponse, error) {
	req, err := c.basic()
	if err != nil {
		return nil, err
	}

	if err = c.signUser(&req); err != nil {
		return nil, err
	}

	var out NotificationURLResponse
	if err = c.post(ctx, common.NotificationCreatePath, &req, &out); err != nil {
		return nil, fmt.Errorf("CreateNotificationURL | %w", err)
	}

	return &out, nil
}
