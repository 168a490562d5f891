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

// ProviderType identifies a KMS provider.
type ProviderType string

const (
	// ProviderAzureKeyVault uses Azure Key Vault for key management.
	ProviderAzureKeyVault ProviderType = "azure-keyvault"
	// ProviderAWSKMS uses AWS Key Management Service.
	ProviderAWSKMS ProviderType = "aws-kms"
	// ProviderGCPKMS uses Google Cloud KMS.
	ProviderGCPKMS ProviderType = "gcp-kms"
	// ProviderVault uses HashiCorp Vault transit backend.
	ProviderVault ProviderType = "vault"
)

// ProviderConfig contains configuration for creating a KMS provider.
type ProviderConfig struct {
	// ProviderType is the type of KMS provider to use.
	ProviderType ProviderType
	// KeyID is the identifier of the key to use.
	KeyID string
	// VaultURL is the URL of the key vault (Azure Key Vault URL, Vault address, etc.).
	VaultURL string
	// Credentials contains provider-specific credential values from a K8s Secret.
	Credentials map[string]string
}
