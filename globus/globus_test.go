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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/fetch"
)

// a fake Globus Transfer API that records submissions and serves canned
// task statuses
type fakeTransferApi struct {
	Server *httptest.Server

	mutex       sync.Mutex
	submissions []map[string]any          // decoded transfer submissions
	statuses    map[string]string         // task id -> status string
	cancelled   map[string]bool           // task id -> cancel requested
}

func newFakeTransferApi() *fakeTransferApi {
	api := &fakeTransferApi{
		statuses:  make(map[string]string),
		cancelled: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.10/submission_id", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"value": uuid.New().String()})
	})
	mux.HandleFunc("POST /v0.10/transfer", func(w http.ResponseWriter, r *http.Request) {
		var submission map[string]any
		json.NewDecoder(r.Body).Decode(&submission)
		taskId := uuid.New()
		api.mutex.Lock()
		api.submissions = append(api.submissions, submission)
		api.statuses[taskId.String()] = "ACTIVE"
		api.mutex.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": taskId.String(),
			"code":    "Accepted",
		})
	})
	mux.HandleFunc("GET /v0.10/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		status := api.statuses[r.PathValue("id")]
		api.mutex.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"status":              status,
			"nice_status_details": "canned outcome",
		})
	})
	mux.HandleFunc("POST /v0.10/task/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		api.cancelled[r.PathValue("id")] = true
		api.mutex.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"code": "Canceled"})
	})
	api.Server = httptest.NewServer(mux)
	return api
}

// marks every submitted task with the given status
func (api *fakeTransferApi) finishAll(status string) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	for taskId := range api.statuses {
		api.statuses[taskId] = status
	}
}

func newTestClient(api *fakeTransferApi) *Client {
	return &Client{
		TransferURL:     api.Server.URL,
		destination:     uuid.New(),
		destinationPath: "/cache",
		localRoot:       "/var/esgcat/cache",
		accessToken:     "test-token",
		tasks:           make(map[uuid.UUID][]uuid.UUID),
	}
}

const (
	sourceEndpointA = "415a6320-e49c-11e5-9798-22000b9da45e"
	sourceEndpointB = "9a8e5b42-e49c-11e5-9798-22000b9da45e"
)

func TestSubmitGroupsFilesBySourceEndpoint(t *testing.T) {
	api := newFakeTransferApi()
	defer api.Server.Close()
	client := newTestClient(api)

	files := []fetch.BulkFile{
		{Source: fmt.Sprintf("globus:%s/CMIP6/tas.nc", sourceEndpointA),
			Destination: "/var/esgcat/cache/CMIP6/tas.nc"},
		{Source: fmt.Sprintf("globus:%s/CMIP6/pr.nc", sourceEndpointA),
			Destination: "/var/esgcat/cache/CMIP6/pr.nc"},
		{Source: fmt.Sprintf("globus:%s/CMIP6/psl.nc", sourceEndpointB),
			Destination: "/var/esgcat/cache/CMIP6/psl.nc"},
	}
	jobId, err := client.Submit(context.Background(), files)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(api.submissions))
	assert.Equal(t, 2, len(client.tasks[jobId]))

	// the first submission carries endpoint A's two files, re-rooted under
	// the destination path
	first := api.submissions[0]
	assert.Equal(t, sourceEndpointA, first["source_endpoint"])
	items := first["DATA"].([]any)
	assert.Equal(t, 2, len(items))
	item := items[0].(map[string]any)
	assert.Equal(t, "/CMIP6/tas.nc", item["source_path"])
	assert.Equal(t, "/cache/CMIP6/tas.nc", item["destination_path"])
	assert.Equal(t, true, first["verify_checksum"])
}

func TestStatusAggregatesTasks(t *testing.T) {
	api := newFakeTransferApi()
	defer api.Server.Close()
	client := newTestClient(api)

	files := []fetch.BulkFile{
		{Source: fmt.Sprintf("globus:%s/tas.nc", sourceEndpointA),
			Destination: "/var/esgcat/cache/tas.nc"},
		{Source: fmt.Sprintf("globus:%s/pr.nc", sourceEndpointB),
			Destination: "/var/esgcat/cache/pr.nc"},
	}
	jobId, err := client.Submit(context.Background(), files)
	assert.Nil(t, err)

	status, err := client.Status(context.Background(), jobId)
	assert.Nil(t, err)
	assert.Equal(t, fetch.TaskActive, status.Code)

	api.finishAll("SUCCEEDED")
	status, err = client.Status(context.Background(), jobId)
	assert.Nil(t, err)
	assert.Equal(t, fetch.TaskSucceeded, status.Code)
}

func TestStatusReportsFirstFailure(t *testing.T) {
	api := newFakeTransferApi()
	defer api.Server.Close()
	client := newTestClient(api)

	files := []fetch.BulkFile{
		{Source: fmt.Sprintf("globus:%s/tas.nc", sourceEndpointA),
			Destination: "/var/esgcat/cache/tas.nc"},
	}
	jobId, err := client.Submit(context.Background(), files)
	assert.Nil(t, err)
	api.finishAll("FAILED")

	status, err := client.Status(context.Background(), jobId)
	assert.Nil(t, err)
	assert.Equal(t, fetch.TaskFailed, status.Code)
	assert.Equal(t, "canned outcome", status.Message)
}

func TestStatusRejectsUnknownJob(t *testing.T) {
	api := newFakeTransferApi()
	defer api.Server.Close()
	client := newTestClient(api)

	_, err := client.Status(context.Background(), uuid.New())
	assert.NotNil(t, err)
	assert.IsType(t, &ApiError{}, err)
}

func TestCancelRequestsAllTasks(t *testing.T) {
	api := newFakeTransferApi()
	defer api.Server.Close()
	client := newTestClient(api)

	files := []fetch.BulkFile{
		{Source: fmt.Sprintf("globus:%s/tas.nc", sourceEndpointA),
			Destination: "/var/esgcat/cache/tas.nc"},
		{Source: fmt.Sprintf("globus:%s/pr.nc", sourceEndpointB),
			Destination: "/var/esgcat/cache/pr.nc"},
	}
	jobId, err := client.Submit(context.Background(), files)
	assert.Nil(t, err)

	assert.Nil(t, client.Cancel(context.Background(), jobId))
	// cancellation is best-effort and asynchronous
	assert.Eventually(t, func() bool {
		api.mutex.Lock()
		defer api.mutex.Unlock()
		return len(api.cancelled) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestParseSource(t *testing.T) {
	endpoint, path, err := parseSource(
		fmt.Sprintf("globus:%s/CMIP6/tas.nc", sourceEndpointA))
	assert.Nil(t, err)
	assert.Equal(t, sourceEndpointA, endpoint.String())
	assert.Equal(t, "/CMIP6/tas.nc", path)

	for _, invalid := range []string{
		"https://example.gov/tas.nc",
		"globus:not-a-uuid/tas.nc",
		"globus:" + sourceEndpointA,
	} {
		_, _, err := parseSource(invalid)
		assert.IsType(t, &InvalidSourceError{}, err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(config.Config{})
	assert.IsType(t, &NotConfiguredError{}, err)
}

func TestTokenCacheRoundTrip(t *testing.T) {
	var key fernet.Key
	assert.Nil(t, key.Generate())
	conf := config.GlobusConfig{
		TokenFile: filepath.Join(t.TempDir(), "globus_token.dat"),
		Key:       key.Encode(),
	}

	// empty cache misses
	_, cached := loadCachedToken(conf)
	assert.False(t, cached)

	storeCachedToken(conf, "fresh-token", 3600)
	token, cached := loadCachedToken(conf)
	assert.True(t, cached)
	assert.Equal(t, "fresh-token", token)

	// a token at the edge of expiry isn't reused
	storeCachedToken(conf, "stale-token", 60)
	_, cached = loadCachedToken(conf)
	assert.False(t, cached)
}
