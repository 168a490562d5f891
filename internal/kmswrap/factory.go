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

import "fmt"

// NewProvider creates a new encryption Provider based on the given configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.ProviderType {
	case ProviderAzureKeyVault:
		return newAzureKeyVaultProvider(cfg)
	case ProviderAWSKMS:
		return newAWSKMSProvider(cfg)
	case ProviderGCPKMS:
		return newGCPKMSProvider(cfg)
	case ProviderVault:
		return newVaultProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown encryption provider type: %q", cfg.ProviderType)
	}
}
