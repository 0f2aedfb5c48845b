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

// Package globus implements the bulk transfer side channel against the
// Globus Transfer API (https://docs.globus.org/api/transfer/). Files whose
// replicas are addressed as globus:<endpoint>/<path> are batched into
// managed transfer tasks bound for the configured destination endpoint.
package globus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/fetch"
)

const (
	transferBaseURL    = "https://transfer.api.globusonline.org"
	transferApiVersion = "v0.10"
	authTokenURL       = "https://auth.globus.org/v2/oauth2/token"
	transferScope      = "urn:globus:auth:scope:transfer.api.globus.org:all"
	taskLabel          = "esgcat"
)

// A Client submits and tracks bulk transfer tasks. It satisfies
// fetch.BulkClient. One scheduler submission may span several source
// endpoints, so a single job ID can fan out to several Globus tasks; Status
// aggregates them and Cancel cancels them all.
type Client struct {
	// Transfer and Auth API base URLs (package defaults unless overridden)
	TransferURL string
	AuthURL     string

	// destination endpoint and the path on it standing in for the cache root
	destination     uuid.UUID
	destinationPath string
	// the local cache root that destinationPath replaces
	localRoot string

	accessToken string
	client      http.Client

	mutex sync.Mutex
	tasks map[uuid.UUID][]uuid.UUID // job ID -> Globus task IDs
}

// Creates a bulk transfer client from the given configuration,
// authenticating with Globus Auth (or reusing a cached token) up front. A
// zero destination endpoint means the side channel is not configured.
func NewClient(conf config.Config) (*Client, error) {
	var zeroId uuid.UUID
	if conf.Globus.Endpoint == zeroId {
		return nil, &NotConfiguredError{}
	}
	client := &Client{
		TransferURL:     transferBaseURL,
		AuthURL:         authTokenURL,
		destination:     conf.Globus.Endpoint,
		destinationPath: conf.Globus.Path,
		tasks:           make(map[uuid.UUID][]uuid.UUID),
	}
	if len(conf.Data.LocalCache) > 0 {
		client.localRoot = conf.Data.LocalCache[0]
	}

	token, cached := loadCachedToken(conf.Globus)
	if cached {
		client.accessToken = token
		return client, nil
	}
	if conf.Globus.Auth.ClientId == zeroId {
		return nil, &AuthenticationError{Message: "no client credentials configured"}
	}
	token, expiresIn, err := client.authenticate(conf.Globus.Auth.ClientId,
		conf.Globus.Auth.ClientSecret)
	if err != nil {
		return nil, err
	}
	client.accessToken = token
	storeCachedToken(conf.Globus, token, expiresIn)
	return client, nil
}

// obtains an access token via a client credentials grant
// (https://docs.globus.org/api/auth/reference/#client_credentials_grant)
func (c *Client) authenticate(clientId uuid.UUID, clientSecret string) (string, int, error) {
	data := url.Values{}
	data.Set("scope", transferScope)
	data.Set("grant_type", "client_credentials")
	request, err := http.NewRequest(http.MethodPost, c.AuthURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, &AuthenticationError{Message: err.Error()}
	}
	request.SetBasicAuth(clientId.String(), clientSecret)
	request.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	response, err := c.client.Do(request)
	if err != nil {
		return "", 0, &AuthenticationError{Message: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", 0, &AuthenticationError{
			Message: fmt.Sprintf("status %d", response.StatusCode),
		}
	}
	var auth struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(response.Body).Decode(&auth); err != nil {
		return "", 0, &AuthenticationError{Message: err.Error()}
	}
	return auth.AccessToken, auth.ExpiresIn, nil
}

// splits a globus:<endpoint>/<path> location into its endpoint and path
func parseSource(source string) (uuid.UUID, string, error) {
	trimmed := strings.TrimPrefix(source, "globus:")
	if trimmed == source {
		return uuid.UUID{}, "", &InvalidSourceError{Source: source}
	}
	endpoint, sourcePath, found := strings.Cut(trimmed, "/")
	if !found {
		return uuid.UUID{}, "", &InvalidSourceError{Source: source}
	}
	id, err := uuid.Parse(endpoint)
	if err != nil {
		return uuid.UUID{}, "", &InvalidSourceError{Source: source}
	}
	return id, "/" + sourcePath, nil
}

// maps a local destination path to its path on the destination endpoint
func (c *Client) endpointPath(destination string) string {
	if c.destinationPath == "" {
		return destination
	}
	return path.Join(c.destinationPath,
		strings.TrimPrefix(destination, c.localRoot))
}

// Submits the given files as transfer tasks, one per source endpoint, and
// returns a job ID covering all of them.
func (c *Client) Submit(ctx context.Context, files []fetch.BulkFile) (uuid.UUID, error) {
	// group items by source endpoint: one Globus task carries one source
	bySource := make(map[uuid.UUID][]transferItem)
	order := make([]uuid.UUID, 0)
	for _, file := range files {
		endpoint, sourcePath, err := parseSource(file.Source)
		if err != nil {
			return uuid.UUID{}, err
		}
		if _, found := bySource[endpoint]; !found {
			order = append(order, endpoint)
		}
		bySource[endpoint] = append(bySource[endpoint], transferItem{
			DataType:        "transfer_item",
			SourcePath:      sourcePath,
			DestinationPath: c.endpointPath(file.Destination),
		})
	}

	taskIds := make([]uuid.UUID, 0, len(order))
	for _, endpoint := range order {
		taskId, err := c.submitTransfer(ctx, endpoint, bySource[endpoint])
		if err != nil {
			// cancel already-submitted siblings so the job fails atomically
			for _, submitted := range taskIds {
				c.cancelTask(submitted)
			}
			return uuid.UUID{}, err
		}
		taskIds = append(taskIds, taskId)
	}

	jobId := uuid.New()
	c.mutex.Lock()
	c.tasks[jobId] = taskIds
	c.mutex.Unlock()
	return jobId, nil
}

// one file within a transfer task submission
// (https://docs.globus.org/api/transfer/task_submit/#transfer_item_fields)
type transferItem struct {
	DataType        string `json:"DATA_TYPE"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

// submits one transfer task from the given source endpoint
// (https://docs.globus.org/api/transfer/task_submit/#submit_transfer_task)
func (c *Client) submitTransfer(ctx context.Context, source uuid.UUID,
	items []transferItem) (uuid.UUID, error) {
	submissionId, err := c.submissionId(ctx)
	if err != nil {
		return uuid.UUID{}, err
	}

	type submissionRequest struct {
		DataType            string         `json:"DATA_TYPE"` // "transfer"
		Id                  string         `json:"submission_id"`
		Label               string         `json:"label"`
		Data                []transferItem `json:"DATA"`
		DestinationEndpoint string         `json:"destination_endpoint"`
		SourceEndpoint      string         `json:"source_endpoint"`
		SyncLevel           int            `json:"sync_level"`
		VerifyChecksum      bool           `json:"verify_checksum"`
		FailOnQuotaErrors   bool           `json:"fail_on_quota_errors"`
	}
	body, err := json.Marshal(submissionRequest{
		DataType:            "transfer",
		Id:                  submissionId.String(),
		Label:               taskLabel,
		Data:                items,
		DestinationEndpoint: c.destination.String(),
		SourceEndpoint:      source.String(),
		SyncLevel:           3, // transfer only if checksums don't match
		VerifyChecksum:      true,
		FailOnQuotaErrors:   true,
	})
	if err != nil {
		return uuid.UUID{}, err
	}

	response, err := c.post(ctx, "transfer", bytes.NewReader(body))
	if err != nil {
		return uuid.UUID{}, err
	}
	defer response.Body.Close()
	var submitted struct {
		TaskId  uuid.UUID `json:"task_id"`
		Code    string    `json:"code"`
		Message string    `json:"message"`
	}
	if err := json.NewDecoder(response.Body).Decode(&submitted); err != nil {
		return uuid.UUID{}, err
	}
	var zeroId uuid.UUID
	if submitted.TaskId == zeroId {
		return uuid.UUID{}, &ApiError{Code: submitted.Code, Message: submitted.Message}
	}
	return submitted.TaskId, nil
}

// obtains a submission ID for a new task
// (https://docs.globus.org/api/transfer/task_submit/#get_submission_id)
func (c *Client) submissionId(ctx context.Context) (uuid.UUID, error) {
	response, err := c.get(ctx, "submission_id", url.Values{})
	if err != nil {
		return uuid.UUID{}, err
	}
	defer response.Body.Close()
	var submission struct {
		Value uuid.UUID `json:"value"`
	}
	err = json.NewDecoder(response.Body).Decode(&submission)
	return submission.Value, err
}

// mapping of Globus task status strings to scheduler status codes
var statusCodesForStrings = map[string]fetch.TaskStatusCode{
	"ACTIVE":    fetch.TaskActive,
	"INACTIVE":  fetch.TaskActive,
	"SUCCEEDED": fetch.TaskSucceeded,
	"FAILED":    fetch.TaskFailed,
}

// Reports the aggregate status of a job: failed as soon as any of its tasks
// fails, succeeded when all have succeeded, active otherwise.
func (c *Client) Status(ctx context.Context, jobId uuid.UUID) (fetch.TaskStatus, error) {
	c.mutex.Lock()
	taskIds, found := c.tasks[jobId]
	c.mutex.Unlock()
	if !found {
		return fetch.TaskStatus{}, &ApiError{Code: "NotFound",
			Message: fmt.Sprintf("unknown job %s", jobId.String())}
	}

	succeeded := 0
	for _, taskId := range taskIds {
		status, err := c.taskStatus(ctx, taskId)
		if err != nil {
			return fetch.TaskStatus{}, err
		}
		switch statusCodesForStrings[status.Status] {
		case fetch.TaskFailed:
			return fetch.TaskStatus{
				Code:    fetch.TaskFailed,
				Message: status.NiceStatusDescription,
			}, nil
		case fetch.TaskSucceeded:
			succeeded++
		}
	}
	if succeeded == len(taskIds) {
		return fetch.TaskStatus{Code: fetch.TaskSucceeded}, nil
	}
	return fetch.TaskStatus{
		Code:    fetch.TaskActive,
		Message: fmt.Sprintf("%d/%d tasks complete", succeeded, len(taskIds)),
	}, nil
}

// the slice of a task document the client cares about
// (https://docs.globus.org/api/transfer/task/#task_document)
type taskDocument struct {
	Status                string `json:"status"`
	NiceStatusDescription string `json:"nice_status_details"`
	Code                  string `json:"code"`
	Message               string `json:"message"`
}

func (c *Client) taskStatus(ctx context.Context, taskId uuid.UUID) (taskDocument, error) {
	response, err := c.get(ctx, fmt.Sprintf("task/%s", taskId.String()), url.Values{})
	if err != nil {
		return taskDocument{}, err
	}
	defer response.Body.Close()
	var task taskDocument
	if err := json.NewDecoder(response.Body).Decode(&task); err != nil {
		return taskDocument{}, err
	}
	if strings.Contains(task.Code, "ClientError") {
		return taskDocument{}, &ApiError{Code: task.Code, Message: task.Message}
	}
	return task, nil
}

// Requests cancellation of all the job's tasks. Globus processes
// cancellations asynchronously and a request can block for up to 10
// seconds, so each one is issued in the background and this call settles
// for best-effort execution.
func (c *Client) Cancel(ctx context.Context, jobId uuid.UUID) error {
	c.mutex.Lock()
	taskIds := c.tasks[jobId]
	c.mutex.Unlock()
	for _, taskId := range taskIds {
		if err := c.cancelTask(taskId); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) cancelTask(taskId uuid.UUID) error {
	errors := make(chan error, 1)
	go func() {
		resource := fmt.Sprintf("task/%s/cancel", taskId.String())
		resp, err := c.post(context.Background(), resource, http.NoBody)
		if err != nil {
			errors <- err
			return
		}
		resp.Body.Close()
		close(errors)
	}()
	select {
	case err := <-errors:
		return err
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

//------------------------
// Transfer API plumbing
//------------------------

func (c *Client) get(ctx context.Context, resource string,
	values url.Values) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.TransferURL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("%s/%s", transferApiVersion, resource)
	u.RawQuery = values.Encode()
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("GET: %s", res))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, res, http.NoBody)
	if err != nil {
		return nil, err
	}
	request.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	return c.client.Do(request)
}

func (c *Client) post(ctx context.Context, resource string,
	body io.Reader) (*http.Response, error) {
	u, err := url.ParseRequestURI(c.TransferURL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("%s/%s", transferApiVersion, resource)
	res := fmt.Sprintf("%v", u)
	slog.Debug(fmt.Sprintf("POST: %s", res))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, res, body)
	if err != nil {
		return nil, err
	}
	request.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	return c.client.Do(request)
}
