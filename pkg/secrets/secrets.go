package secrets

import (
	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secrets", fx.Provide(ProvideVault))

// ProvideVault builds a Vault client from VAULT_ADDR / VAULT_TOKEN. The
// client is optional everywhere it is consumed; deployments without Vault
// simply omit this module.
func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
