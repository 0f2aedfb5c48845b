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

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/indices"
	"github.com/esgf2-us/esgcat/journal"
	"github.com/esgf2-us/esgcat/ledger"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"esgcat" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a response describing one configured federation index (GET)
type IndexResponse struct {
	Id       string `json:"id,omitempty"`
	Name     string `json:"name" example:"ornl"`
	Provider string `json:"provider" example:"globus"`
	URL      string `json:"url,omitempty" example:"https://esgf-node.ornl.gov"`
}

// a request for a federated dataset search (POST)
type SearchRequest struct {
	// facet name -> accepted values (OR within a facet, AND across facets)
	Facets map[string][]string `json:"facets" doc:"facet constraints: a dataset matches when, for every facet, it carries one of the given values"`
	// optional inclusive time window restricting file records by their extent
	FileStart time.Time `json:"file_start,omitempty" doc:"(Optional) earliest file time extent of interest"`
	FileEnd   time.Time `json:"file_end,omitempty" doc:"(Optional) latest file time extent of interest"`
	// strict mode returns only datasets matching every requested facet exactly
	Strict bool `json:"strict,omitempty" doc:"(Optional) keep only datasets whose facets match the query exactly"`
}

// translates the request into an index query
func (r SearchRequest) query() indices.Query {
	return indices.Query{
		Facets:    r.Facets,
		FileStart: r.FileStart,
		FileEnd:   r.FileEnd,
		Strict:    r.Strict,
	}
}

// a response for a federated dataset search (POST)
type SearchResponse struct {
	// merged datasets, sorted by key
	Datasets []catalog.Dataset `json:"datasets" doc:"merged datasets matching the query"`
	// per-index degradations encountered during the search
	Warnings []string `json:"warnings,omitempty" doc:"indices that failed or timed out during the search"`
}

// a response for a file resolution request (POST)
type FilesResponse struct {
	// deduplicated file records with ordered access candidates
	Files []catalog.FileRecord `json:"files" doc:"deduplicated file records resolved from the matching datasets"`
	// per-index degradations encountered during search or resolution
	Warnings []string `json:"warnings,omitempty"`
}

// a request for a file acquisition (POST)
type FetchRequest struct {
	SearchRequest
	// ancillary variables resolved (with facet relaxation) alongside the
	// primary results
	Ancillary []string `json:"ancillary,omitempty" example:"[\"areacella\",\"sftlf\"]" doc:"(Optional) ancillary variables to acquire alongside the search results"`
}

// a response for a file acquisition request (POST)
type FetchResponse struct {
	// acquisition job ID
	Id uuid.UUID `json:"id" doc:"a UUID for the requested acquisition"`
}

// a response for an acquisition status request (GET)
type FetchStatusResponse struct {
	// acquisition job ID
	Id string `json:"id"`
	// acquisition job status
	Status string `json:"status"`
	// message (if any) related to status
	Message string `json:"message,omitempty"`
	// number of files covered by the acquisition
	NumFiles int `json:"num_files"`
	// number of files now satisfied locally (or by streaming endpoints)
	NumSatisfied int `json:"num_satisfied"`
	// per-file terminal states, keyed by logical path
	States map[string]string `json:"states,omitempty"`
	// logical path -> local path or streaming URL, for satisfied files
	Paths map[string]string `json:"paths,omitempty"`
	// session warnings gathered while the acquisition ran
	Warnings []string `json:"warnings,omitempty"`
}

// a response for a performance ledger query (GET)
type LedgerResponse struct {
	Hosts []ledger.HostSummary `json:"hosts" doc:"per-host transfer performance, fastest first"`
}

// a response for an acquisition history query (GET)
type HistoryResponse struct {
	Acquisitions []journal.Record `json:"acquisitions" doc:"journaled acquisitions, earliest first"`
}

// CatalogService defines the interface for the dataset catalog service.
type CatalogService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
