// Copyright (c) 2024 The ESGF2-US Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package globus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/esgf2-us/esgcat/config"
)

// Access tokens obtained by a client credentials grant are cached between
// runs in a fernet-sealed file so restarts don't burn grants. The cache is
// enabled only when both a token file and a sealing key are configured.

// tokens this close to expiry are not reused
const tokenExpirySlack = 5 * time.Minute

// Globus tokens live about two days; older sealed messages are rejected
// outright
const tokenMaxAge = 48 * time.Hour

// the sealed payload
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// returns the cached access token if one is present, unsealable, and not
// near expiry
func loadCachedToken(conf config.GlobusConfig) (string, bool) {
	if conf.TokenFile == "" || conf.Key == "" {
		return "", false
	}
	key, err := fernet.DecodeKey(conf.Key)
	if err != nil {
		slog.Warn(fmt.Sprintf("Invalid Globus token cache key: %s", err.Error()))
		return "", false
	}
	sealed, err := os.ReadFile(conf.TokenFile)
	if err != nil {
		return "", false
	}
	plaintext := fernet.VerifyAndDecrypt(sealed, tokenMaxAge, []*fernet.Key{key})
	if plaintext == nil {
		return "", false
	}
	var token cachedToken
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return "", false
	}
	if time.Now().Add(tokenExpirySlack).After(token.ExpiresAt) {
		return "", false
	}
	return token.AccessToken, true
}

// seals a freshly obtained token into the cache file (failures are logged,
// not fatal: the token still serves this run)
func storeCachedToken(conf config.GlobusConfig, accessToken string, expiresIn int) {
	if conf.TokenFile == "" || conf.Key == "" {
		return
	}
	key, err := fernet.DecodeKey(conf.Key)
	if err != nil {
		slog.Warn(fmt.Sprintf("Invalid Globus token cache key: %s", err.Error()))
		return
	}
	plaintext, err := json.Marshal(cachedToken{
		AccessToken: accessToken,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	})
	if err != nil {
		return
	}
	sealed, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't seal Globus token cache: %s", err.Error()))
		return
	}
	if err := os.WriteFile(conf.TokenFile, sealed, 0600); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't write Globus token cache: %s", err.Error()))
	}
}
