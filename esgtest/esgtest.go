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

// This package contains testing utilities for the federated resolution and
// transfer engine.
package esgtest

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
)

// Enables DEBUG log messages for the engine's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//---------------------
// Index Test Fixtures
//---------------------

// This type implements an indices.Index test fixture serving canned dataset
// and file records, with optional failure and delay injection.
type Index struct {
	IndexName string
	// canned dataset records reported by Search
	Datasets []indices.DatasetRecord
	// canned file records reported by FileInfo, keyed by full dataset id
	Files map[string][]indices.FileInfo
	// when set, every call fails with this error
	Fail error
	// when set, every call sleeps first (or honors context cancellation)
	Delay time.Duration

	mutex    sync.Mutex
	searches int
}

// Registers the index test fixture provider under the given provider name.
// Indices configured with that provider resolve to the fixtures passed here,
// keyed by index name.
func RegisterIndexProvider(providerName string, fixtures map[string]*Index) error {
	return indices.RegisterProvider(providerName,
		func(conf config.IndexConfig) (indices.Index, error) {
			return fixtures[conf.Name], nil
		})
}

func (index *Index) Name() string {
	return index.IndexName
}

// returns the number of Search calls made against the fixture
func (index *Index) Searches() int {
	index.mutex.Lock()
	defer index.mutex.Unlock()
	return index.searches
}

func (index *Index) wait(ctx context.Context) error {
	if index.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(index.Delay):
		return nil
	case <-ctx.Done():
		return &indices.UnavailableError{Index: index.IndexName, Message: ctx.Err().Error()}
	}
}

func (index *Index) Search(ctx context.Context, query indices.Query) ([]indices.DatasetRecord, error) {
	index.mutex.Lock()
	index.searches++
	index.mutex.Unlock()

	if err := index.wait(ctx); err != nil {
		return nil, err
	}
	if index.Fail != nil {
		return nil, index.Fail
	}

	// apply the query's facet constraints to the canned records
	matched := make([]indices.DatasetRecord, 0)
	for _, record := range index.Datasets {
		if recordMatches(record, query) {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (index *Index) FileInfo(ctx context.Context, datasetIds []string,
	query indices.Query) ([]indices.FileInfo, error) {
	if err := index.wait(ctx); err != nil {
		return nil, err
	}
	if index.Fail != nil {
		return nil, index.Fail
	}
	infos := make([]indices.FileInfo, 0)
	for _, id := range datasetIds {
		infos = append(infos, index.Files[id]...)
	}
	return infos, nil
}

// a canned record matches when, for every facet both constrained and
// reported, at least one reported value was requested (control facets are
// ignored, since fixtures don't model them)
func recordMatches(record indices.DatasetRecord, query indices.Query) bool {
	for facet, requested := range query.Facets {
		switch facet {
		case "latest", "retracted", "replica":
			continue
		}
		reported, found := record.Facets[facet]
		if !found {
			if facet == "project" {
				continue
			}
			return false
		}
		any := false
		for _, value := range reported {
			for _, want := range requested {
				if value == want {
					any = true
					break
				}
			}
		}
		if !any {
			return false
		}
	}
	return true
}

//--------------------------
// Transfer Source Fixtures
//--------------------------

// A FileHost serves canned file contents over HTTP with an optional
// per-chunk delay, for exercising downloads and slow-transfer cancellation.
type FileHost struct {
	Server *httptest.Server
	// file contents keyed by request path ("/" + logical path)
	mutex sync.Mutex
	files map[string][]byte
	// bytes written per chunk before each delay
	chunkSize  int
	chunkDelay time.Duration
	requests   int
}

// creates a file host serving the given contents with no delay
func NewFileHost(files map[string][]byte) *FileHost {
	host := &FileHost{
		files:     files,
		chunkSize: 32 * 1024,
	}
	host.Server = httptest.NewServer(http.HandlerFunc(host.serve))
	return host
}

// makes the host dribble its responses: chunkSize bytes, then a delay
func (h *FileHost) Throttle(chunkSize int, chunkDelay time.Duration) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.chunkSize = chunkSize
	h.chunkDelay = chunkDelay
}

// returns the URL serving the given logical path
func (h *FileHost) URL(path string) string {
	return h.Server.URL + "/" + path
}

// returns the number of requests served
func (h *FileHost) Requests() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.requests
}

func (h *FileHost) Close() {
	h.Server.Close()
}

func (h *FileHost) serve(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	h.requests++
	content, found := h.files[r.URL.Path[1:]]
	chunkSize := h.chunkSize
	chunkDelay := h.chunkDelay
	h.mutex.Unlock()

	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	flusher, _ := w.(http.Flusher)
	for offset := 0; offset < len(content); offset += chunkSize {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}
		if _, err := w.Write(content[offset:end]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if chunkDelay > 0 {
			select {
			case <-time.After(chunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}
}
