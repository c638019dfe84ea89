package testutil

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/innonova/mimiri-client-sub002/api"
	"github.com/innonova/mimiri-client-sub002/common"
	"github.com/innonova/mimiri-client-sub002/crypto"
	"github.com/innonova/mimiri-client-sub002/store"
)

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}

	return true
}

// decodeSealed reads a body that may be sealed to the server key.
func (s *Server) decodeSealed(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.Key == nil {
		return decode(w, r, v)
	}

	var sealed api.EncryptedRequest
	if !decode(w, r, &sealed) {
		return false
	}

	plain, err := s.Key.Decrypt(sealed.Data)
	if err != nil || sealed.KeyID != s.KeyID {
		http.Error(w, "invalid sealed request", http.StatusBadRequest)
		return false
	}

	if err = json.Unmarshal([]byte(plain), v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}

	return true
}

// authenticate resolves the user and verifies the "user" signature. The
// caller must hold s.mu.
func (s *Server) authenticate(w http.ResponseWriter, username string, req crypto.Signable) *user {
	u := s.users[username]
	if u == nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return nil
	}

	if err := u.signature.Verify(common.SignatureNameUser, req); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil
	}

	return u
}

// checkResponse verifies a challenge response. Challenges are single use.
func checkResponse(u *user, response string, hashLength int) bool {
	challenge := u.challenge
	u.challenge = ""

	if challenge == "" {
		return false
	}

	expected, err := crypto.ComputeResponse(u.account.Password.Hash, challenge)
	if err != nil {
		return false
	}

	return expected == response && hashLength == len(u.account.Password.Hash)/2
}

// keySignature returns the verifier of a stored key by name or nil.
func keySignature(u *user, name string) *crypto.Signature {
	for _, k := range u.keys {
		if k.Name != name {
			continue
		}

		var kd store.KeyData
		if err := json.Unmarshal([]byte(k.Data), &kd); err != nil {
			return nil
		}

		sig, err := crypto.SignatureFromPem(kd.AsymmetricAlgorithm, kd.PublicKey, "")
		if err != nil {
			return nil
		}

		return sig
	}

	return nil
}

func (s *Server) preLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge := newChallenge()

	u := s.users[chi.URLParam(r, "username")]
	if u == nil {
		salt, _ := crypto.NewSalt(crypto.DefaultSaltSize)
		writeJSON(w, api.PreLoginResponse{
			Salt:       salt,
			Iterations: crypto.DefaultIterations,
			Algorithm:  crypto.DefaultPasswordAlgorithm,
			Challenge:  challenge,
		})

		return
	}

	u.challenge = challenge

	writeJSON(w, api.PreLoginResponse{
		Salt:       u.account.Password.Salt,
		Iterations: u.account.Password.Iterations,
		Algorithm:  u.account.Password.Algorithm,
		Challenge:  challenge,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[req.Username]
	if u == nil || !checkResponse(u, req.Response, req.HashLength) {
		http.Error(w, "login rejected", http.StatusUnauthorized)
		return
	}

	writeJSON(w, api.LoginResponse{
		UserID:              u.id,
		PublicKey:           u.account.PublicKey,
		PrivateKey:          u.account.PrivateKey,
		AsymmetricAlgorithm: u.account.AsymmetricAlgorithm,
		Salt:                u.account.Salt,
		Iterations:          u.account.Iterations,
		Algorithm:           u.account.Algorithm,
		SymmetricAlgorithm:  u.account.SymmetricAlgorithm,
		SymmetricKey:        u.account.SymmetricKey,
		Data:                u.data,
		Config:              u.config,
		Usage:               u.usage(),
	})
}

func (s *Server) available(w http.ResponseWriter, r *http.Request) {
	var req api.CheckUsernameRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, api.CheckUsernameResponse{
		Username:      req.Username,
		Available:     s.users[req.Username] == nil,
		ProofAccepted: true,
	})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req api.CreateUserRequest
	if !s.decodeSealed(w, r, &req) {
		return
	}

	sig, err := crypto.SignatureFromPem(req.AsymmetricAlgorithm, req.PublicKey, "")
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	if err = sig.Verify(common.SignatureNameUser, &req); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users[req.Username] != nil {
		http.Error(w, "username taken", http.StatusConflict)
		return
	}

	s.users[req.Username] = &user{
		id:           newID(),
		username:     req.Username,
		account:      req.AccountData,
		signature:    sig,
		data:         req.Data,
		config:       `{"features":[]}`,
		limits:       DefaultLimits,
		notes:        map[string]*api.NoteInfo{},
		keys:         map[string]*api.KeyInfo{},
		deletedNotes: map[string]int64{},
	}

	writeJSON(w, struct{}{})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateUserRequest
	if !s.decodeSealed(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[req.OldUsername]
	if u == nil {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	if u.signature.Verify(common.SignatureNameUser, &req) != nil || u.signature.Verify(common.SignatureNameOldUser, &req) != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if !checkResponse(u, req.Response, req.HashLength) {
		http.Error(w, "incorrect password", http.StatusUnauthorized)
		return
	}

	if req.Username != req.OldUsername && s.users[req.Username] != nil {
		http.Error(w, "username taken", http.StatusConflict)
		return
	}

	sig, err := crypto.SignatureFromPem(req.AsymmetricAlgorithm, req.PublicKey, "")
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}

	delete(s.users, req.OldUsername)

	u.username = req.Username
	u.account = req.AccountData
	u.signature = sig
	u.data = req.Data
	s.users[req.Username] = u

	writeJSON(w, struct{}{})
}

func (s *Server) updateUserData(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateUserDataRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	u.data = req.Data

	writeJSON(w, struct{}{})
}

func (s *Server) getData(w http.ResponseWriter, r *http.Request) {
	var req api.BasicRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	writeJSON(w, api.UserDataResponse{Data: u.data, Config: u.config, Usage: u.usage()})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteAccountRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	if !checkResponse(u, req.Response, req.HashLength) {
		http.Error(w, "incorrect password", http.StatusUnauthorized)
		return
	}

	delete(s.users, req.Username)

	writeJSON(w, struct{}{})
}

func (s *Server) publicKey(w http.ResponseWriter, r *http.Request) {
	var req api.PublicKeyRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticate(w, req.Username, &req) == nil {
		return
	}

	owner := s.users[req.KeyOwnerName]
	if owner == nil {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	writeJSON(w, api.PublicKeyResponse{
		AsymmetricAlgorithm: owner.account.AsymmetricAlgorithm,
		PublicKey:           owner.account.PublicKey,
	})
}

func (s *Server) changesSince(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	resp := api.SyncResponse{
		Notes:        s.sortedNotes(u, req.NoteSince),
		Keys:         []api.KeyInfo{},
		DeletedNotes: []string{},
		Usage:        u.usage(),
	}

	for _, k := range u.keys {
		if k.Sync > req.KeySince {
			resp.Keys = append(resp.Keys, *k)
		}
	}

	sort.Slice(resp.Keys, func(i, j int) bool {
		return resp.Keys[i].Sync < resp.Keys[j].Sync
	})

	for id, sync := range u.deletedNotes {
		if sync > req.NoteSince {
			resp.DeletedNotes = append(resp.DeletedNotes, id)
		}
	}

	sort.Strings(resp.DeletedNotes)

	writeJSON(w, resp)
}

func findItem(n *api.NoteInfo, itemType string) *api.NoteInfoItem {
	for i := range n.Items {
		if n.Items[i].ItemType == itemType {
			return &n.Items[i]
		}
	}

	return nil
}

// conflicts compares the versions an action was based on with the stored ones.
func conflicts(n *api.NoteInfo, items []api.NoteActionItem) []api.VersionConflict {
	var out []api.VersionConflict

	for _, item := range items {
		var actual int64
		if n != nil {
			if stored := findItem(n, item.Type); stored != nil {
				actual = stored.Version
			}
		}

		if actual != item.Version {
			out = append(out, api.VersionConflict{Type: item.Type, Expected: item.Version, Actual: actual})
		}
	}

	return out
}

func (s *Server) createNote(u *user, id, keyName string, items []api.NoteActionItem) {
	now := common.Now()
	n := &api.NoteInfo{
		ID:       id,
		KeyName:  keyName,
		Created:  now,
		Modified: now,
		Sync:     s.nextSync(),
	}

	for _, item := range items {
		n.Items = append(n.Items, api.NoteInfoItem{
			NoteID:   id,
			ItemType: item.Type,
			Version:  item.Version + 1,
			Data:     item.Data,
			Created:  now,
			Modified: now,
		})
	}

	u.notes[id] = n
	delete(u.deletedNotes, id)
}

func (s *Server) updateNote(n *api.NoteInfo, keyName string, items []api.NoteActionItem) {
	now := common.Now()

	if keyName != "" {
		n.KeyName = keyName
	}

	for _, item := range items {
		if stored := findItem(n, item.Type); stored != nil {
			stored.Data = item.Data
			stored.Version++
			stored.Modified = now

			continue
		}

		n.Items = append(n.Items, api.NoteInfoItem{
			NoteID:   n.ID,
			ItemType: item.Type,
			Version:  1,
			Data:     item.Data,
			Created:  now,
			Modified: now,
		})
	}

	n.Modified = now
	n.Sync = s.nextSync()
}

func (s *Server) deleteNote(u *user, id string) {
	delete(u.notes, id)
	u.deletedNotes[id] = s.nextSync()
}

func (s *Server) pushChanges(w http.ResponseWriter, r *http.Request) {
	var req api.SyncPushRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	s.pushes = append(s.pushes, req)

	resp := api.SyncPushResponse{Status: api.StatusSuccess, Results: []api.SyncResult{}}

	for _, action := range req.Keys {
		result := api.SyncResult{ID: action.ID, Kind: api.KindKey, Action: action.Type, Success: true}

		switch action.Type {
		case api.ActionCreate:
			now := common.Now()
			u.keys[action.ID] = &api.KeyInfo{
				ID:       action.ID,
				Name:     action.Name,
				Data:     action.Data,
				Created:  now,
				Modified: now,
				Sync:     s.nextSync(),
			}
		case api.ActionDelete:
			delete(u.keys, action.ID)
		default:
			result.Success = false
		}

		resp.Results = append(resp.Results, result)
	}

	for _, action := range req.Notes {
		result := api.SyncResult{ID: action.ID, Kind: api.KindNote, Action: action.Type, Success: true}
		n := u.notes[action.ID]

		switch action.Type {
		case api.ActionCreate:
			if n != nil {
				result.Success = false
				result.Conflicts = conflicts(n, action.Items)
				break
			}

			s.createNote(u, action.ID, action.KeyName, action.Items)
		case api.ActionUpdate:
			if n == nil {
				result.Success = false
				break
			}

			if result.Conflicts = conflicts(n, action.Items); len(result.Conflicts) > 0 {
				result.Success = false
				break
			}

			s.updateNote(n, action.KeyName, action.Items)
		case api.ActionDelete:
			if n != nil {
				s.deleteNote(u, action.ID)
			}
		}

		resp.Results = append(resp.Results, result)
	}

	writeJSON(w, resp)
}

func (s *Server) multi(w http.ResponseWriter, r *http.Request) {
	var req api.MultiNoteRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	for _, action := range req.Actions {
		for _, name := range []string{action.KeyName, action.OldKeyName} {
			if sig := keySignature(u, name); sig != nil && sig.Verify(name, &req) != nil {
				http.Error(w, "invalid key signature", http.StatusForbidden)
				return
			}
		}
	}

	var found []api.VersionConflict

	for _, action := range req.Actions {
		n := u.notes[action.ID]

		switch action.Type {
		case api.ActionCreate:
			if n != nil {
				found = append(found, conflicts(n, action.Items)...)
			}
		case api.ActionUpdate:
			if n == nil {
				http.Error(w, "note not found", http.StatusNotFound)
				return
			}

			found = append(found, conflicts(n, action.Items)...)
		}
	}

	if len(found) > 0 {
		usage := u.usage()
		writeJSON(w, api.UpdateNoteResponse{Success: false, Conflicts: found, Size: usage.Size, NoteCount: usage.NoteCount})

		return
	}

	for _, action := range req.Actions {
		switch action.Type {
		case api.ActionCreate:
			s.createNote(u, action.ID, action.KeyName, action.Items)
		case api.ActionUpdate:
			s.updateNote(u.notes[action.ID], action.KeyName, action.Items)
		case api.ActionDelete:
			if u.notes[action.ID] != nil {
				s.deleteNote(u, action.ID)
			}
		}
	}

	usage := u.usage()
	writeJSON(w, api.UpdateNoteResponse{Success: true, Conflicts: []api.VersionConflict{}, Size: usage.Size, NoteCount: usage.NoteCount})
}

func (s *Server) readNote(w http.ResponseWriter, r *http.Request) {
	var req api.ReadNoteRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	n := u.notes[req.ID]
	if n == nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}

	resp := api.ReadNoteResponse{
		ID:       n.ID,
		KeyName:  n.KeyName,
		Modified: n.Modified,
		Created:  n.Created,
		Sync:     n.Sync,
	}

	for _, item := range n.Items {
		resp.Items = append(resp.Items, store.NoteItemData{
			Version:  item.Version,
			Type:     item.ItemType,
			Data:     item.Data,
			Modified: item.Modified,
			Created:  item.Created,
		})
	}

	writeJSON(w, resp)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req api.CreateKeyRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	now := common.Now()

	data, err := json.Marshal(store.KeyData{
		ID:                  req.ID,
		UserID:              u.id,
		Name:                req.Name,
		Algorithm:           req.Algorithm,
		KeyData:             req.KeyData,
		AsymmetricAlgorithm: req.AsymmetricAlgorithm,
		PublicKey:           req.PublicKey,
		PrivateKey:          req.PrivateKey,
		Metadata:            req.Metadata,
		Created:             now,
		Modified:            now,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	u.keys[req.ID] = &api.KeyInfo{
		ID:       req.ID,
		Name:     req.Name,
		Data:     string(data),
		Created:  now,
		Modified: now,
		Sync:     s.nextSync(),
	}

	writeJSON(w, struct{}{})
}

func (s *Server) shareNote(w http.ResponseWriter, r *http.Request) {
	var req api.ShareNoteRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	if sig := keySignature(u, req.KeyName); sig != nil && sig.Verify(common.SignatureNameKey, &req) != nil {
		http.Error(w, "invalid key signature", http.StatusForbidden)
		return
	}

	offer := &shareOffer{
		ShareOffer: api.ShareOffer{ID: newID(), Sender: u.username, Data: req.Data},
		code:       randomCode(8),
		recipient:  req.Recipient,
	}
	s.offers = append(s.offers, offer)

	writeJSON(w, api.ShareResponse{Code: offer.code})
}

func (s *Server) shareOffers(w http.ResponseWriter, r *http.Request) {
	var req api.ShareOfferRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authenticate(w, req.Username, &req)
	if u == nil {
		return
	}

	resp := api.ShareOffersResponse{Offers: []api.ShareOffer{}}

	for _, o := range s.offers {
		if o.code == req.Code && o.recipient == u.username {
			resp.Offers = append(resp.Offers, o.ShareOffer)
		}
	}

	writeJSON(w, resp)
}

func (s *Server) deleteShare(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteShareRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticate(w, req.Username, &req) == nil {
		return
	}

	kept := s.offers[:0]

	for _, o := range s.offers {
		if o.ID != req.ID {
			kept = append(kept, o)
		}
	}

	s.offers = kept

	writeJSON(w, struct{}{})
}

func (s *Server) notificationURL(w http.ResponseWriter, r *http.Request) {
	var req api.BasicRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authenticate(w, req.Username, &req) == nil {
		return
	}

	writeJSON(w, api.NotificationURLResponse{URL: s.URL + "/hub", Token: randomHex(16)})
}
