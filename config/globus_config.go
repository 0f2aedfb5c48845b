package config

import (
	"github.com/google/uuid"
)

// authentication/authorization data (client secret used to request access token)
type AuthConfig struct {
	ClientId     uuid.UUID `yaml:"client_id"`
	ClientSecret string    `yaml:"client_secret"`
}

// configuration for the bulk (Globus Transfer) side channel
type GlobusConfig struct {
	// authentication/authorization data
	Auth AuthConfig `yaml:"auth"`
	// the destination endpoint ID (zero disables the side channel)
	Endpoint uuid.UUID `yaml:"endpoint"`
	// path relative to the destination endpoint root into which files land
	Path string `yaml:"path"`
	// file in which obtained access tokens are cached between runs
	TokenFile string `yaml:"token_file"`
	// base64-encoded fernet key sealing the token file (empty disables
	// the token cache)
	Key string `yaml:"key"`
}
