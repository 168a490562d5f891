/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rpcclient

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/spkeasy-social/control-plane/internal/errs"
	"github.com/spkeasy-social/control-plane/internal/propagation"
)

// TrustedUsersService and UserKeysService name the downstream services this
// adapter calls, matching the endpoints map a Client is constructed with.
const (
	TrustedUsersService = "trusted-users"
	UserKeysService     = "user-keys"
)

// TrustClient adapts a Client to propagation.TrustChecker by calling the
// trust graph service's getTrusted method over C7.
type TrustClient struct {
	client *Client
}

// NewTrustClient wraps client for use as a propagation.TrustChecker.
func NewTrustClient(client *Client) *TrustClient {
	return &TrustClient{client: client}
}

type getTrustedRequest struct {
	AuthorDID    string `json:"authorDid"`
	RecipientDID string `json:"recipientDid,omitempty"`
}

type getTrustedResponse struct {
	Edges []struct {
		RecipientDID string `json:"recipientDid"`
		CreatedAt    string `json:"createdAt"`
	} `json:"edges"`
}

// IsTrusted asks trusted-users whether recipientDID currently holds an
// active trust edge from authorDID.
func (t *TrustClient) IsTrusted(ctx context.Context, authorDID, recipientDID string) (bool, error) {
	var resp getTrustedResponse
	err := t.client.Call(ctx, TrustedUsersService, "social.spkeasy.graph.getTrusted", getTrustedRequest{
		AuthorDID:    authorDID,
		RecipientDID: recipientDID,
	}, &resp)
	if err != nil {
		return false, err
	}
	for _, e := range resp.Edges {
		if e.RecipientDID == recipientDID {
			return true, nil
		}
	}
	return false, nil
}

var _ propagation.TrustChecker = (*TrustClient)(nil)

// KeyClient adapts a Client to propagation.KeyFetcher by calling the
// keystore service's getPrivateKeys (service-only) and getPublicKey
// endpoints over C7.
type KeyClient struct {
	client *Client
}

// NewKeyClient wraps client for use as a propagation.KeyFetcher.
func NewKeyClient(client *Client) *KeyClient {
	return &KeyClient{client: client}
}

type getPrivateKeysRequest struct {
	DID    string   `json:"did"`
	KeyIDs []string `json:"keyIds"`
}

type getPrivateKeysResponse struct {
	Keys []struct {
		ID         string `json:"id"`
		PrivateKey string `json:"privateKey"`
	} `json:"keys"`
}

// GetPrivateKeys resolves authorDID's keypairs named by keyPairIDs.
func (k *KeyClient) GetPrivateKeys(ctx context.Context, authorDID string, keyPairIDs []uuid.UUID) ([]propagation.PrivateKeyRecord, error) {
	ids := make([]string, len(keyPairIDs))
	for i, id := range keyPairIDs {
		ids[i] = id.String()
	}

	var resp getPrivateKeysResponse
	err := k.client.Call(ctx, UserKeysService, "social.spkeasy.key.getPrivateKeys", getPrivateKeysRequest{
		DID:    authorDID,
		KeyIDs: ids,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]propagation.PrivateKeyRecord, 0, len(resp.Keys))
	for _, rk := range resp.Keys {
		id, err := uuid.Parse(rk.ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "rpcclient: parse key id", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rk.PrivateKey)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "rpcclient: decode private key", err)
		}
		out = append(out, propagation.PrivateKeyRecord{ID: id, PrivateKey: raw})
	}
	return out, nil
}

type getPublicKeyRequest struct {
	DID string `json:"did"`
}

type getPublicKeyResponse struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
}

// GetPublicKey resolves did's current public keypair.
func (k *KeyClient) GetPublicKey(ctx context.Context, did string) (propagation.PublicKeyRecord, error) {
	var resp getPublicKeyResponse
	err := k.client.Call(ctx, UserKeysService, "social.spkeasy.key.getPublicKey", getPublicKeyRequest{DID: did}, &resp)
	if err != nil {
		return propagation.PublicKeyRecord{}, err
	}

	id, err := uuid.Parse(resp.ID)
	if err != nil {
		return propagation.PublicKeyRecord{}, errs.Wrap(errs.KindInternal, "rpcclient: parse key id", err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return propagation.PublicKeyRecord{}, errs.Wrap(errs.KindInternal, "rpcclient: decode public key", err)
	}
	return propagation.PublicKeyRecord{ID: id, PublicKey: raw}, nil
}

var _ propagation.KeyFetcher = (*KeyClient)(nil)
