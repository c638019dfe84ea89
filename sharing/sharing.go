// Package sharing offers a note's key to another account and accepts offers
// made to this one. Offers are sealed to the recipient's public key and
// fetched with a short code the sender passes on out of band.
package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/keys"
	"github.com/innonova/mimiri-client-sub002/logging"
	"github.com/innonova/mimiri-client-sub002/multiaction"
	"github.com/innonova/mimiri-client-sub002/notes"
	"github.com/innonova/mimiri-client-sub002/schemas"
	"github.com/innonova/mimiri-client-sub002/session"
	"github.com/innonova/mimiri-client-sub002/store"
)

var (
	ErrOffline      = errors.New("sharing requires a connected cloud account")
	ErrNoOffer      = errors.New("no share offer for code")
	ErrInvalidOffer = errors.New("share offer could not be read")
)

// Offer is a decrypted share offer.
type Offer struct {
	api.NoteShareInfo

	// Warning is set when the sender named inside the offer is not the
	// account the server received it from.
	Warning string
}

type Service struct {
	// ProofBits is the proof of work difficulty for public key lookups.
	ProofBits int

	client *api.Client
	keys   *keys.Manager
	state  *session.State
	log    logging.Logger
}

func NewService(client *api.Client, km *keys.Manager, state *session.State, debug bool) *Service {
	return &Service{
		ProofBits: crypto.DefaultProofBits,
		client:    client,
		keys:      km,
		state:     state,
		log:       logging.New(debug, "sharing"),
	}
}

func (s *Service) connected() error {
	if s.client == nil || s.state.AccountType() != session.AccountCloud || !s.state.IsOnline() {
		return ErrOffline
	}

	return nil
}

// ShareNote offers the key of noteID to recipient and returns the code the
// recipient needs to fetch the offer.
func (s *Service) ShareNote(ctx context.Context, recipient, keyName, noteID, name string) (string, error) {
	if err := s.connected(); err != nil {
		return "", err
	}

	keySig := s.keys.KeySignature(keyName)
	if keySig == nil {
		return "", fmt.Errorf("ShareNote | %w: %s", keys.ErrKeyNotFound, keyName)
	}

	share, err := s.keys.ExportShareKey(keyName)
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	pk, err := s.client.GetPublicKey(ctx, recipient, crypto.ComputeProofOfWork(recipient, s.ProofBits))
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	to, err := crypto.SignatureFromPem(pk.AsymmetricAlgorithm, pk.PublicKey, "")
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	info := api.NoteShareInfo{
		ID:                  uuid.New().String(),
		Sender:              s.state.Username(),
		Created:             common.Now(),
		Name:                name,
		NoteID:              noteID,
		KeyName:             share.KeyName,
		Algorithm:           share.Algorithm,
		KeyData:             share.KeyData,
		AsymmetricAlgorithm: share.AsymmetricAlgorithm,
		PublicKey:           share.PublicKey,
		PrivateKey:          share.PrivateKey,
	}

	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	data, err := to.Encrypt(string(b))
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	code, err := s.client.ShareNote(ctx, recipient, keyName, data, keySig)
	if err != nil {
		return "", fmt.Errorf("ShareNote | %w", err)
	}

	s.log.Debugf("ShareNote | offered %s to %s", noteID, recipient)

	return code, nil
}

// GetShareOffer fetches and decrypts the first offer made under code.
func (s *Service) GetShareOffer(ctx context.Context, code string) (*Offer, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	offers, err := s.client.GetShareOffers(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("GetShareOffer | %w", err)
	}

	if len(offers) == 0 {
		return nil, fmt.Errorf("GetShareOffer | %w: %s", ErrNoOffer, code)
	}

	if len(offers) > 1 {
		s.log.Warnf("GetShareOffer | %d offers for one code, using the first", len(offers))
	}

	return s.open(offers[0])
}

func (s *Service) open(so api.ShareOffer) (*Offer, error) {
	sig := s.state.RootSignature()
	if sig == nil {
		return nil, fmt.Errorf("GetShareOffer | %w", ErrOffline)
	}

	plain, err := sig.Decrypt(so.Data)
	if err != nil {
		return nil, fmt.Errorf("GetShareOffer | %w: %v", ErrInvalidOffer, err)
	}

	var offer Offer
	if err = json.Unmarshal([]byte(plain), &offer.NoteShareInfo); err != nil {
		return nil, fmt.Errorf("GetShareOffer | %w: %v", ErrInvalidOffer, err)
	}

	if err = schemas.Validate(schemas.NoteShareInfo, offer.NoteShareInfo); err != nil {
		return nil, fmt.Errorf("GetShareOffer | %w: %v", ErrInvalidOffer, err)
	}

	if offer.Sender != so.Sender {
		offer.Warning = fmt.Sprintf("offer claims to be from %q but was sent by %q", offer.Sender, so.Sender)
		s.log.Warnf("GetShareOffer | %s", offer.Warning)
	}

	offer.ID = so.ID

	return &offer, nil
}

// AcceptShare registers the offered key unless it is already known and
// removes the offer from the server. When parent is set the shared note is
// appended to its children through batch, which is committed before the
// offer is removed.
func (s *Service) AcceptShare(ctx context.Context, offer *Offer, parent *notes.Note, batch *multiaction.Batch) (*keys.KeySet, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	ks := s.keys.GetKeyByName(offer.KeyName)
	if ks == nil {
		share := keys.ShareKey{
			KeyName:             offer.KeyName,
			Algorithm:           offer.Algorithm,
			KeyData:             offer.KeyData,
			AsymmetricAlgorithm: offer.AsymmetricAlgorithm,
			PublicKey:           offer.PublicKey,
			PrivateKey:          offer.PrivateKey,
		}

		var err error

		ks, err = s.keys.CreateKeyFromNoteShare(uuid.New().String(), share, store.KeyMetadata{Shared: true}, func(kd store.KeyData) error {
			return s.client.CreateKey(ctx, api.CreateKeyRequest{
				ID:                  kd.ID,
				Name:                kd.Name,
				Algorithm:           kd.Algorithm,
				KeyData:             kd.KeyData,
				AsymmetricAlgorithm: kd.AsymmetricAlgorithm,
				PublicKey:           kd.PublicKey,
				PrivateKey:          kd.PrivateKey,
				Metadata:            kd.Metadata,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("AcceptShare | %w", err)
		}
	} else {
		s.log.Debugf("AcceptShare | key %s already present", offer.KeyName)
	}

	if parent != nil && batch != nil {
		ids := parent.ChildIDs()
		if !contains(ids, offer.NoteID) {
			parent.SetChildIDs(append(ids, offer.NoteID))

			if err := batch.UpdateNote(parent); err != nil {
				return nil, fmt.Errorf("AcceptShare | %w", err)
			}

			if _, err := batch.Commit(ctx); err != nil {
				return nil, fmt.Errorf("AcceptShare | %w", err)
			}
		}
	}

	if err := s.DeleteShareOffer(ctx, offer.ID); err != nil {
		return nil, fmt.Errorf("AcceptShare | %w", err)
	}

	return ks, nil
}

func (s *Service) DeleteShareOffer(ctx context.Context, id string) error {
	if err := s.connected(); err != nil {
		return err
	}

	return s.client.DeleteShareOffer(ctx, id)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}

	return false
}
