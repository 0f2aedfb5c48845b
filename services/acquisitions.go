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
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/fetch"
	"github.com/esgf2-us/esgcat/ledger"
)

// acquisition job states (per-file states come from the fetch package)
const (
	statusSearching    = "searching"
	statusResolving    = "resolving"
	statusTransferring = "transferring"
	statusSucceeded    = "succeeded"
	statusFailed       = "failed"
	statusCanceled     = "canceled"
)

// one asynchronous acquisition: search, resolve, acquire
type acquisition struct {
	id     uuid.UUID
	cancel context.CancelFunc

	mutex    sync.Mutex
	status   string
	message  string
	numFiles int
	result   *fetch.Result
	warnings []string
}

func (job *acquisition) setStatus(status, message string) {
	job.mutex.Lock()
	defer job.mutex.Unlock()
	job.status = status
	job.message = message
}

// tracks in-flight and completed acquisitions
type acquisitionManager struct {
	mutex sync.Mutex
	jobs  map[uuid.UUID]*acquisition
	group sync.WaitGroup
}

func newAcquisitionManager() *acquisitionManager {
	return &acquisitionManager{
		jobs: make(map[uuid.UUID]*acquisition),
	}
}

// creates a new acquisition job and starts it in the background
func (m *acquisitionManager) create(conf config.Config, perf *ledger.Ledger,
	bulk fetch.BulkClient, request FetchRequest) (uuid.UUID, error) {
	if len(request.Facets) == 0 {
		return uuid.UUID{}, fmt.Errorf("An acquisition request needs facet constraints.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &acquisition{
		id:     uuid.New(),
		cancel: cancel,
		status: statusSearching,
	}
	m.mutex.Lock()
	m.jobs[job.id] = job
	m.mutex.Unlock()

	m.group.Add(1)
	go func() {
		defer m.group.Done()
		defer cancel()
		m.run(ctx, job, conf, perf, bulk, request)
	}()
	return job.id, nil
}

// drives one acquisition from search through transfer
func (m *acquisitionManager) run(ctx context.Context, job *acquisition,
	conf config.Config, perf *ledger.Ledger, bulk fetch.BulkClient,
	request FetchRequest) {
	cat, err := catalog.New(conf)
	if err != nil {
		job.setStatus(statusFailed, err.Error())
		return
	}
	defer func() {
		job.mutex.Lock()
		job.warnings = cat.Session().Warnings()
		job.mutex.Unlock()
	}()

	query := request.query()
	datasets, err := cat.Search(ctx, query)
	if err != nil {
		job.setStatus(m.terminalStatus(ctx), err.Error())
		return
	}

	job.setStatus(statusResolving, "")
	files, err := cat.ResolveFiles(ctx, datasets, query)
	if err != nil {
		job.setStatus(m.terminalStatus(ctx), err.Error())
		return
	}

	// resolve requested ancillary variables alongside the primary results
	havePath := make(map[string]bool, len(files))
	for _, file := range files {
		havePath[file.Path] = true
	}
	for _, variable := range request.Ancillary {
		for _, dataset := range datasets {
			ancillary, err := cat.ResolveAncillary(ctx, dataset, variable, query)
			if err != nil {
				job.setStatus(m.terminalStatus(ctx), err.Error())
				return
			}
			for _, file := range ancillary {
				if !havePath[file.Path] {
					havePath[file.Path] = true
					files = append(files, file)
				}
			}
		}
	}

	job.mutex.Lock()
	job.status = statusTransferring
	job.numFiles = len(files)
	job.mutex.Unlock()

	scheduler := fetch.NewScheduler(conf, perf, cat.Session(), bulk)
	result, err := scheduler.Acquire(ctx, files, fetch.Options{Facets: request.Facets})

	job.mutex.Lock()
	defer job.mutex.Unlock()
	job.result = result
	switch {
	case ctx.Err() != nil:
		job.status = statusCanceled
	case err != nil:
		job.status = statusFailed
		job.message = err.Error()
	case result != nil && len(result.Failures) > 0:
		job.status = statusFailed
		job.message = fmt.Sprintf("%d of %d files could not be acquired",
			len(result.Failures), len(files))
	default:
		job.status = statusSucceeded
	}
}

// canceled jobs report as canceled, everything else as failed
func (m *acquisitionManager) terminalStatus(ctx context.Context) string {
	if ctx.Err() != nil {
		return statusCanceled
	}
	return statusFailed
}

// reports the status of the acquisition with the given ID
func (m *acquisitionManager) status(id uuid.UUID) (FetchStatusResponse, error) {
	m.mutex.Lock()
	job, found := m.jobs[id]
	m.mutex.Unlock()
	if !found {
		return FetchStatusResponse{}, errors.New("Acquisition not found: " + id.String())
	}

	job.mutex.Lock()
	defer job.mutex.Unlock()
	response := FetchStatusResponse{
		Id:       job.id.String(),
		Status:   job.status,
		Message:  job.message,
		NumFiles: job.numFiles,
		Warnings: job.warnings,
	}
	if job.result != nil {
		response.NumSatisfied = len(job.result.LocalPaths)
		response.States = job.result.States
		response.Paths = job.result.LocalPaths
	}
	return response, nil
}

// requests cancellation of the acquisition with the given ID
func (m *acquisitionManager) cancel(id uuid.UUID) error {
	m.mutex.Lock()
	job, found := m.jobs[id]
	m.mutex.Unlock()
	if !found {
		return errors.New("Acquisition not found: " + id.String())
	}
	job.cancel()
	return nil
}

// cancels every job and waits for their goroutines to drain
func (m *acquisitionManager) stop() {
	m.mutex.Lock()
	for _, job := range m.jobs {
		job.cancel()
	}
	m.mutex.Unlock()
	m.group.Wait()
}
