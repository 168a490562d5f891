/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

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

package kmswrap

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

// mockAzkeysClient is a test double for the azkeysClient interface.
type mockAzkeysClient struct {
	WrapKeyFn func(
		ctx context.Context, keyName, keyVersion string,
		params azkeys.KeyOperationParameters, opts *azkeys.WrapKeyOptions,
	) (azkeys.WrapKeyResponse, error)

	UnwrapKeyFn func(
		ctx context.Context, keyName, keyVersion string,
		params azkeys.KeyOperationParameters, opts *azkeys.UnwrapKeyOptions,
	) (azkeys.UnwrapKeyResponse, error)

	GetKeyFn func(
		ctx context.Context, keyName, keyVersion string,
		opts *azkeys.GetKeyOptions,
	) (azkeys.GetKeyResponse, error)

	RotateKeyFn func(
		ctx context.Context, keyName string,
		opts *azkeys.RotateKeyOptions,
	) (azkeys.RotateKeyResponse, error)
}

func (m *mockAzkeysClient) WrapKey(
	ctx context.Context, keyName, keyVersion string,
	params azkeys.KeyOperationParameters, opts *azkeys.WrapKeyOptions,
) (azkeys.WrapKeyResponse, error) {
	return m.WrapKeyFn(ctx, keyName, keyVersion, params, opts)
}

func (m *mockAzkeysClient) UnwrapKey(
	ctx context.Context, keyName, keyVersion string,
	params azkeys.KeyOperationParameters, opts *azkeys.UnwrapKeyOptions,
) (azkeys.UnwrapKeyResponse, error) {
	return m.UnwrapKeyFn(ctx, keyName, keyVersion, params, opts)
}

func (m *mockAzkeysClient) GetKey(
	ctx context.Context, keyName, keyVersion string,
	opts *azkeys.GetKeyOptions,
) (azkeys.GetKeyResponse, error) {
	return m.GetKeyFn(ctx, keyName, keyVersion, opts)
}

func (m *mockAzkeysClient) RotateKey(
	ctx context.Context, keyName string,
	opts *azkeys.RotateKeyOptions,
) (azkeys.RotateKeyResponse, error) {
	return m.RotateKeyFn(ctx, keyName, opts)
}
