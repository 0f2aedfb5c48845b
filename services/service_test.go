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

package services

// This file defines a unit test setup for the catalog service. Two fixture
// indices report the same dataset from different data nodes, and a local
// file host stands in for the data node serving its bytes.

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/esgtest"
	"github.com/esgf2-us/esgcat/fetch"
	"github.com/esgf2-us/esgcat/indices"
	"github.com/esgf2-us/esgcat/journal"
)

// temporary testing directory
var TESTING_DIR string

// service URLs
var (
	baseUrl   = "http://localhost:8123/"
	apiPrefix = "api/v1/"
)

// service instance and the configuration it runs with
var testService CatalogService
var testConfig config.Config

// the data node stand-in
var fileHost *esgtest.FileHost
var testPayload = []byte("netcdf bytes for service tests")

const masterId = "CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn"
const tasFile = "tas_Amon_CESM2_historical_r1i1p1f1_gn_185001-201412.nc"

const serviceConfig string = `
service:
  name: esgcat-test
  port: 8123
  max_connections: 100
  poll_interval: 50
  data_dir: TESTING_DIR/data
data:
  local_cache:
    - TESTING_DIR/cache
  ledger_file: TESTING_DIR/data/ledger.db
fetch:
  num_workers: 2
indices:
  alpha:
    provider: fixture
    enabled: true
  beta:
    provider: fixture
    enabled: true
`

func fullId(node string) string {
	return masterId + ".v20190308|" + node
}

func tasFacets() map[string][]string {
	return map[string][]string{
		"project":       {"CMIP6"},
		"variable_id":   {"tas"},
		"experiment_id": {"historical"},
		"source_id":     {"CESM2"},
		"member_id":     {"r1i1p1f1"},
	}
}

// builds the fixture for one index reporting the dataset from one data node
func fixtureIndex(name, node string) *esgtest.Index {
	sum := sha256.Sum256(testPayload)
	id := fullId(node)
	return &esgtest.Index{
		IndexName: name,
		Datasets: []indices.DatasetRecord{
			{Id: id, Index: name, Facets: tasFacets()},
		},
		Files: map[string][]indices.FileInfo{
			id: {{
				DatasetId:    id,
				Path:         indices.LogicalPath(id, tasFile),
				Size:         int64(len(testPayload)),
				Checksum:     hex.EncodeToString(sum[:]),
				ChecksumType: "sha256",
				Urls: map[string][]string{
					indices.AccessHTTP: {fileHost.URL(tasFile)},
				},
			}},
		},
	}
}

// performs testing setup
func setup() {
	esgtest.EnableDebugLogging()

	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "esgcat-service-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
	for _, dir := range []string{"data", "cache"} {
		if err := os.Mkdir(filepath.Join(TESTING_DIR, dir), 0755); err != nil {
			log.Panicf("Couldn't create %s directory: %s", dir, err)
		}
	}

	fileHost = esgtest.NewFileHost(map[string][]byte{tasFile: testPayload})

	// both indices resolve to the same file host, from different data nodes
	err = esgtest.RegisterIndexProvider("fixture", map[string]*esgtest.Index{
		"alpha": fixtureIndex("alpha", "node-a.example.gov"),
		"beta":  fixtureIndex("beta", "node-b.example.gov"),
	})
	if err != nil {
		log.Panicf("Couldn't register fixture index provider: %s", err)
	}

	myConfig := strings.ReplaceAll(serviceConfig, "TESTING_DIR", TESTING_DIR)
	testConfig, err = config.FromBytes([]byte(myConfig))
	if err != nil {
		log.Panicf("Couldn't initialize configuration: %s", err)
	}
	if err := journal.Init(testConfig.Service.DataDirectory); err != nil {
		log.Panicf("Couldn't open the acquisition journal: %s", err)
	}

	// Start the service.
	log.Print("Starting test catalog service...\n")
	go func() {
		testService, err = NewService(testConfig, nil)
		if err != nil {
			log.Panicf("Couldn't construct the service: %s", err.Error())
		}
		if err := testService.Start(testConfig.Service.Port); err != nil {
			log.Panicf("Couldn't start catalog service: %s", err.Error())
		}
	}()

	// Give the service time to start up.
	time.Sleep(100 * time.Millisecond)
}

// performs testing breakdown
func breakdown() {
	if testService != nil {
		// Gracefully shut the service down when it finishes its work.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		testService.Shutdown(ctx)
	}
	journal.Finalize()
	if fileHost != nil {
		fileHost.Close()
	}
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// sends a GET query
func get(resource string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, resource, http.NoBody)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// sends a POST query with a JSON payload
func post(resource string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, resource, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// sends a DELETE query
func delete_(resource string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, resource, http.NoBody)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// queries the service's root endpoint
func TestQueryRoot(t *testing.T) {
	assert := assert.New(t)

	resp, err := get(baseUrl)
	assert.Nil(err)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()

	var root ServiceInfoResponse
	err = json.Unmarshal(respBody, &root)
	assert.Nil(err)
	assert.Equal("esgcat-test", root.Name)
	assert.Equal(version, root.Version)
}

// queries the service's indices endpoint
func TestQueryIndices(t *testing.T) {
	assert := assert.New(t)

	resp, err := get(baseUrl + apiPrefix + "indices")
	assert.Nil(err)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()

	var configured []IndexResponse
	err = json.Unmarshal(respBody, &configured)
	assert.Nil(err)
	assert.Equal(2, len(configured))
	assert.Equal("alpha", configured[0].Name) // sorted by name
	assert.Equal("fixture", configured[0].Provider)
	assert.Equal("beta", configured[1].Name)
}

// searches the federation and checks the merged result
func TestSearchDatasets(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(SearchRequest{
		Facets: map[string][]string{"variable_id": {"tas"}},
	})
	resp, err := post(baseUrl+apiPrefix+"search", bytes.NewReader(body))
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()

	var results SearchResponse
	err = json.Unmarshal(respBody, &results)
	assert.Nil(err)
	assert.Equal(1, len(results.Datasets))
	assert.Equal(masterId, results.Datasets[0].Key)
	assert.Equal(2, len(results.Datasets[0].Provenance))
	assert.Empty(results.Warnings)
}

// a search with no matches comes back as a 404
func TestSearchWithoutMatches(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(SearchRequest{
		Facets: map[string][]string{"variable_id": {"no-such-variable"}},
	})
	resp, err := post(baseUrl+apiPrefix+"search", bytes.NewReader(body))
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

// resolves files for the matching dataset
func TestResolveFiles(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(SearchRequest{
		Facets: map[string][]string{"variable_id": {"tas"}},
	})
	resp, err := post(baseUrl+apiPrefix+"files", bytes.NewReader(body))
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()

	var results FilesResponse
	err = json.Unmarshal(respBody, &results)
	assert.Nil(err)
	assert.Equal(1, len(results.Files))
	file := results.Files[0]
	assert.Equal(indices.LogicalPath(fullId("node-a.example.gov"), tasFile), file.Path)
	assert.Equal(int64(len(testPayload)), file.Size)
	// both replicas offer the same location, deduplicated to one candidate
	assert.Equal(1, len(file.Candidates))
}

// runs an acquisition from request to verified local file
func TestFetchLifecycle(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(FetchRequest{
		SearchRequest: SearchRequest{
			Facets: map[string][]string{"variable_id": {"tas"}},
		},
	})
	resp, err := post(baseUrl+apiPrefix+"fetch", bytes.NewReader(body))
	assert.Nil(err)
	assert.Equal(http.StatusCreated, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()
	var created FetchResponse
	assert.Nil(json.Unmarshal(respBody, &created))

	// poll until the acquisition reaches a terminal state
	var status FetchStatusResponse
	assert.Eventually(func() bool {
		resp, err := get(fmt.Sprintf("%s%sfetch/%s", baseUrl, apiPrefix, created.Id))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Status == statusSucceeded || status.Status == statusFailed ||
			status.Status == statusCanceled
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(statusSucceeded, status.Status)
	assert.Equal(1, status.NumFiles)
	assert.Equal(1, status.NumSatisfied)

	logical := indices.LogicalPath(fullId("node-a.example.gov"), tasFile)
	assert.Equal(fetch.StateVerified, status.States[logical])
	written, err := os.ReadFile(status.Paths[logical])
	assert.Nil(err)
	assert.Equal(testPayload, written)

	// canceling a finished acquisition is accepted and changes nothing
	resp, err = delete_(fmt.Sprintf("%s%sfetch/%s", baseUrl, apiPrefix, created.Id))
	assert.Nil(err)
	assert.Equal(http.StatusAccepted, resp.StatusCode)
}

// unknown acquisition IDs come back as 404s
func TestFetchStatusForUnknownId(t *testing.T) {
	assert := assert.New(t)

	resp, err := get(fmt.Sprintf("%s%sfetch/%s", baseUrl, apiPrefix, uuid.New()))
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp, err = delete_(fmt.Sprintf("%s%sfetch/%s", baseUrl, apiPrefix, uuid.New()))
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

// queries the performance ledger summary
func TestQueryLedger(t *testing.T) {
	assert := assert.New(t)

	resp, err := get(baseUrl + apiPrefix + "ledger")
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	assert.Nil(err)
	defer resp.Body.Close()

	var summary LedgerResponse
	assert.Nil(json.Unmarshal(respBody, &summary))
}

// completed acquisitions show up in the journaled history
func TestQueryHistory(t *testing.T) {
	assert := assert.New(t)

	// run an acquisition to completion so the journal has a record
	body, _ := json.Marshal(FetchRequest{
		SearchRequest: SearchRequest{
			Facets: map[string][]string{"variable_id": {"tas"}},
		},
	})
	resp, err := post(baseUrl+apiPrefix+"fetch", bytes.NewReader(body))
	assert.Nil(err)
	assert.Equal(http.StatusCreated, resp.StatusCode)
	var created FetchResponse
	assert.Nil(json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	assert.Eventually(func() bool {
		resp, err := get(fmt.Sprintf("%s%sfetch/%s", baseUrl, apiPrefix, created.Id))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status FetchStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Status == statusSucceeded
	}, 10*time.Second, 50*time.Millisecond)

	resp, err = get(baseUrl + apiPrefix + "history")
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)

	var history HistoryResponse
	assert.Nil(json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()

	assert.NotEmpty(history.Acquisitions)
	recorded := history.Acquisitions[len(history.Acquisitions)-1]
	assert.Equal("succeeded", recorded.Status)
	assert.Equal(1, recorded.NumFiles)
	assert.Equal([]string{"tas"}, recorded.Facets["variable_id"])
}

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}
