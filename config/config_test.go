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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  max_connections: 100
  data_dir: /tmp
`

// a valid indices config entry
const VALID_INDICES string = `
indices:
  ornl:
    name: esgf-node.ornl.gov
    provider: solr
    url: https://esgf-node.ornl.gov
    enabled: true
  anl-dev:
    provider: globus
    index_id: d927e2d9-ccdb-48e4-b05d-adbc3d97bbc5
    enabled: false
`

// a valid data config entry
const VALID_DATA string = `
data:
  local_cache:
    - /tmp/esgcat-cache
`

// tests whether FromBytes reports an error for blank input
func TestFromBytesRejectsBlankInput(t *testing.T) {
	_, err := FromBytes([]byte(""))
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether FromBytes reports an error for an invalid port
func TestFromBytesRejectsBadPort(t *testing.T) {
	yaml := "service:\n  port: -1\n\n" + VALID_INDICES + VALID_DATA
	_, err := FromBytes([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "service:\n  port: 1000000\n\n" + VALID_INDICES + VALID_DATA
	_, err = FromBytes([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether FromBytes rejects a configuration with no indices
func TestFromBytesRejectsNoIndicesDefined(t *testing.T) {
	_, err := FromBytes([]byte(VALID_SERVICE + VALID_DATA))
	assert.NotNil(t, err, "Config with no indices didn't trigger an error.")
}

// tests whether FromBytes rejects a configuration with all indices disabled
func TestFromBytesRejectsAllIndicesDisabled(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DATA + `
indices:
  ornl:
    provider: solr
    url: https://esgf-node.ornl.gov
    enabled: false
`
	_, err := FromBytes([]byte(yaml))
	assert.NotNil(t, err, "Config with no enabled indices didn't trigger an error.")
}

// tests whether FromBytes rejects a configuration with no cache directories
func TestFromBytesRejectsNoLocalCache(t *testing.T) {
	_, err := FromBytes([]byte(VALID_SERVICE + VALID_INDICES))
	assert.NotNil(t, err, "Config with no local cache didn't trigger an error.")
}

// tests a valid configuration, its defaults, and enabled index ordering
func TestFromBytesAcceptsValidInput(t *testing.T) {
	conf, err := FromBytes([]byte(VALID_SERVICE + VALID_INDICES + VALID_DATA))
	assert.Nil(t, err, "Valid config triggered an error.")
	assert.Equal(t, 8080, conf.Service.Port)
	assert.Equal(t, 6, conf.Fetch.NumWorkers, "Default worker count not applied.")
	assert.Equal(t, 0.1, conf.Fetch.Exploration, "Default exploration not applied.")
	assert.Equal(t, 30, conf.Indices["ornl"].Timeout, "Default index timeout not applied.")
	assert.Equal(t, "esgf-node.ornl.gov", conf.Indices["ornl"].Name)
	assert.Equal(t, "anl-dev", conf.Indices["anl-dev"].Name, "Index name didn't default to its key.")
	assert.Equal(t, []string{"ornl"}, conf.EnabledIndices())
	assert.Equal(t, "/tmp/ledger.db", conf.Data.LedgerFile, "Ledger file didn't default into data_dir.")
}

// tests whether ${ENV_VAR} expressions are expanded
func TestFromBytesExpandsEnvironmentVariables(t *testing.T) {
	os.Setenv("ESGCAT_TEST_CACHE", "/tmp/expanded-cache")
	defer os.Unsetenv("ESGCAT_TEST_CACHE")
	yaml := VALID_SERVICE + VALID_INDICES + `
data:
  local_cache:
    - ${ESGCAT_TEST_CACHE}
`
	conf, err := FromBytes([]byte(yaml))
	assert.Nil(t, err)
	assert.Equal(t, "/tmp/expanded-cache", conf.Data.LocalCache[0])
}

// tests that an override scope modifies a config and restores it on release
func TestOverrideScopeRestoresOnRelease(t *testing.T) {
	conf, err := FromBytes([]byte(VALID_SERVICE + VALID_INDICES + VALID_DATA))
	assert.Nil(t, err)

	scope := Override(&conf, func(c *Config) {
		c.Fetch.BreakOnError = true
		c.Indices["anl-dev"] = IndexConfig{
			Name:     "anl-dev",
			Provider: "globus",
			Enabled:  true,
		}
	})
	assert.True(t, conf.Fetch.BreakOnError)
	assert.Equal(t, []string{"anl-dev", "ornl"}, conf.EnabledIndices())

	scope.Release()
	assert.False(t, conf.Fetch.BreakOnError, "Override survived its scope.")
	assert.Equal(t, []string{"ornl"}, conf.EnabledIndices())

	// releasing twice is harmless
	scope.Release()
}

// tests that Clone produces an independent copy
func TestCloneIsIndependent(t *testing.T) {
	conf, err := FromBytes([]byte(VALID_SERVICE + VALID_INDICES + VALID_DATA))
	assert.Nil(t, err)
	clone := conf.Clone()
	clone.Indices["ornl"] = IndexConfig{Name: "changed"}
	clone.Data.LocalCache[0] = "/changed"
	assert.Equal(t, "esgf-node.ornl.gov", conf.Indices["ornl"].Name)
	assert.Equal(t, "/tmp/esgcat-cache", conf.Data.LocalCache[0])
}
