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

// Package fetch implements the transfer scheduler: given resolved file
// records, it satisfies each one from the cheapest access candidate —
// already-local data first, then ranked remote replicas under a bounded
// worker pool with retry/fallback, with an optional bulk (Globus) side
// channel — verifying every transfer and feeding observed rates back into
// the performance ledger.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
	"github.com/esgf2-us/esgcat/journal"
	"github.com/esgf2-us/esgcat/ledger"
)

// per-file acquisition states
const (
	StatePending        = "pending"
	StateSatisfiedLocal = "satisfied-local"
	StateTransferring   = "transferring"
	StateVerified       = "verified"
	StateFailed         = "failed"
	StateExhausted      = "exhausted"
)

// options for one acquisition
type Options struct {
	// facet constraints recorded in the acquisition's journal entry
	Facets map[string][]string
}

// The outcome of an acquisition, keyed by logical file path (stable
// regardless of completion order).
type Result struct {
	// logical path -> local path (or streaming URL) now satisfying the file
	LocalPaths map[string]string
	// logical path -> terminal error for files whose candidates all failed
	Failures map[string]error
	// logical paths never attempted (break_on_error abort)
	Unattempted []string
	// logical path -> terminal state
	States map[string]string
	// number of network transfers performed
	Transfers int

	mutex sync.Mutex
}

func newResult() *Result {
	return &Result{
		LocalPaths: make(map[string]string),
		Failures:   make(map[string]error),
		States:     make(map[string]string),
	}
}

func (r *Result) satisfy(path, location string, transferred bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.LocalPaths[path] = location
	if transferred {
		r.Transfers++
		r.States[path] = StateVerified
	} else {
		r.States[path] = StateSatisfiedLocal
	}
}

func (r *Result) fail(path string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Failures[path] = err
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		r.States[path] = StateExhausted
	} else {
		r.States[path] = StateFailed
	}
}

func (r *Result) skip(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Unattempted = append(r.Unattempted, path)
	r.States[path] = StatePending
}

// A Scheduler acquires resolved files. It is safe for concurrent use; each
// Acquire call runs its own worker pool.
type Scheduler struct {
	conf    config.Config
	ledger  *ledger.Ledger
	session *journal.Session
	// bulk transfer client (nil when no managed-transfer service is configured)
	bulk BulkClient
	// HTTP client with HSTS enabled and no overall timeout (transfers are
	// governed by the slow-rate rule instead)
	client http.Client
}

// Creates a scheduler drawing candidate rankings from (and recording
// samples to) the given ledger and logging to the given session. A nil
// bulk client disables the bulk side channel.
func NewScheduler(conf config.Config, perf *ledger.Ledger, session *journal.Session,
	bulk BulkClient) *Scheduler {
	return &Scheduler{
		conf:    conf,
		ledger:  perf,
		session: session,
		bulk:    bulk,
		client:  indices.SecureHttpClient(0),
	}
}

// Acquires the given files: local candidates satisfy their files
// immediately; bulk-eligible files ride the side channel; everything else
// goes through the worker pool, falling through ranked candidates until one
// verifies. With break_on_error set, the first exhausted file aborts the
// acquisition (the error names it) and the remaining files are reported as
// unattempted; otherwise the partial success set and all failures are
// returned with a nil error. Every acquisition is recorded in the
// acquisition journal.
func (s *Scheduler) Acquire(ctx context.Context, files []catalog.FileRecord,
	options Options) (*Result, error) {
	started := time.Now()
	result := newResult()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// partition: local, streaming, bulk, pool
	pool := make([]catalog.FileRecord, 0, len(files))
	bulkFiles := make([]catalog.FileRecord, 0)
	for _, file := range files {
		if len(file.Candidates) == 0 {
			result.fail(file.Path, &ExhaustedError{Path: file.Path})
			continue
		}
		first := file.Candidates[0]
		switch {
		case first.Local():
			s.session.Log("transfer", "%s already local (%s)", file.Path, first.Kind)
			result.satisfy(file.Path, first.Location, false)
		case first.Kind == catalog.KindOpenDAP && s.conf.Fetch.PreferStreaming:
			s.session.Log("transfer", "%s satisfied by streaming endpoint", file.Path)
			result.satisfy(file.Path, first.Location, false)
		case s.bulkEligible(file):
			bulkFiles = append(bulkFiles, file)
		default:
			pool = append(pool, file)
		}
	}

	// submit the bulk task before the pool starts so both proceed together
	var job *bulkJob
	if len(bulkFiles) > 0 {
		var err error
		job, err = s.submitBulk(ctx, bulkFiles)
		if err != nil {
			// submission failure sends the files through the pool instead
			s.session.Warn("bulk submission failed: %s; using the worker pool", err.Error())
			pool = append(pool, bulkFiles...)
			job = nil
		}
	}

	// bounded worker pool over the remaining files
	var group sync.WaitGroup
	workers := make(chan struct{}, s.conf.Fetch.NumWorkers)
	for _, file := range pool {
		select {
		case <-ctx.Done():
			result.skip(file.Path)
			continue
		case workers <- struct{}{}:
		}
		group.Add(1)
		go func() {
			defer group.Done()
			defer func() { <-workers }()
			s.acquireFile(ctx, file, result, cancel)
		}()
	}
	group.Wait()

	// block until the bulk side channel drains
	if job != nil {
		s.awaitBulk(ctx, job, result)
	}

	s.recordAcquisition(files, options, result, started)

	if s.conf.Fetch.BreakOnError {
		if err := firstFailure(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// returns the failure of the lexically first failed path, so the error
// reported under break_on_error doesn't vary from run to run
func firstFailure(result *Result) error {
	first := ""
	for path := range result.Failures {
		if first == "" || path < first {
			first = path
		}
	}
	if first == "" {
		return nil
	}
	return result.Failures[first]
}

// Works one file through its candidates: an existing verified destination
// satisfies it outright; otherwise remote HTTP candidates are tried in
// ledger-ranked host order until one transfer verifies. Exhaustion is
// terminal for the file, and aborts the acquisition under break_on_error.
func (s *Scheduler) acquireFile(ctx context.Context, file catalog.FileRecord,
	result *Result, abort context.CancelFunc) {
	if ctx.Err() != nil {
		result.skip(file.Path)
		return
	}

	// a prior acquisition may have satisfied this file already
	dest := s.destination(file.Path)
	if err := verifyLocal(dest, file); err == nil {
		s.session.Log("transfer", "%s already cached", file.Path)
		result.satisfy(file.Path, dest, false)
		return
	}

	candidates := s.rankedCandidates(file)
	attempts := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			result.skip(file.Path)
			return
		}
		attempts++
		s.session.Log("transfer", "transferring %s from %s", file.Path, candidate.Host)
		err := s.download(ctx, candidate, file, dest)
		if err == nil {
			s.session.Log("transfer", "%s verified", file.Path)
			result.satisfy(file.Path, dest, true)
			return
		}
		s.session.Warn("transfer of %s from %s failed: %s",
			file.Path, candidate.Host, err.Error())
	}

	exhausted := &ExhaustedError{Path: file.Path, Attempts: attempts}
	s.session.Warn(exhausted.Error())
	result.fail(file.Path, exhausted)
	if s.conf.Fetch.BreakOnError {
		abort()
	}
}

// Orders a file's downloadable (HTTP) candidates by the ledger's host
// ranking; candidates on the same host keep their reported order.
func (s *Scheduler) rankedCandidates(file catalog.FileRecord) []catalog.AccessCandidate {
	downloadable := make([]catalog.AccessCandidate, 0, len(file.Candidates))
	hosts := make([]string, 0)
	seen := make(map[string]bool)
	for _, candidate := range file.Candidates {
		if candidate.Kind != catalog.KindHTTP {
			continue
		}
		downloadable = append(downloadable, candidate)
		if !seen[candidate.Host] {
			seen[candidate.Host] = true
			hosts = append(hosts, candidate.Host)
		}
	}

	ranked, err := s.ledger.Rank(hosts)
	if err != nil {
		s.session.Warn("host ranking failed: %s", err.Error())
		return downloadable
	}
	rank := make(map[string]int, len(ranked))
	for i, host := range ranked {
		rank[host] = i
	}
	sort.SliceStable(downloadable, func(i, j int) bool {
		return rank[downloadable[i].Host] < rank[downloadable[j].Host]
	})
	return downloadable
}

// returns a file's destination path in the first cache mirror
func (s *Scheduler) destination(path string) string {
	return filepath.Join(s.conf.Data.LocalCache[0], path)
}

// records a near-zero-rate sample so a failing host sinks in the ranking
func (s *Scheduler) recordFailure(host string, seconds float64) {
	if seconds <= 0 {
		seconds = 1
	}
	s.ledger.RecordSample(ledger.Sample{Host: host, Seconds: seconds, Megabytes: 0})
}

// writes the acquisition's journal record (with a manifest of the files
// acquired) if the journal is open
func (s *Scheduler) recordAcquisition(files []catalog.FileRecord, options Options,
	result *Result, started time.Time) {
	if !journal.IsOpen() {
		return
	}

	status := "succeeded"
	if len(result.Failures) > 0 || len(result.Unattempted) > 0 {
		status = "failed"
	}

	var payloadSize int64
	resources := make([]any, 0, len(result.LocalPaths))
	for _, file := range files {
		if _, satisfied := result.LocalPaths[file.Path]; !satisfied {
			continue
		}
		payloadSize += file.Size
		// the data-package schema wants hashes prefixed with their algorithm
		hash := ""
		if file.Checksum != "" && file.ChecksumType != "" {
			hash = fmt.Sprintf("%s:%s", file.ChecksumType, file.Checksum)
		}
		resources = append(resources, map[string]any{
			"name":   resourceName(file.Path),
			"path":   file.Path,
			"bytes":  file.Size,
			"hash":   hash,
			"format": "netcdf",
		})
	}

	record := journal.Record{
		Id:          uuid.New(),
		Facets:      options.Facets,
		StartTime:   started,
		StopTime:    time.Now(),
		Status:      status,
		PayloadSize: payloadSize,
		NumFiles:    len(result.LocalPaths),
	}
	if status == "succeeded" && len(resources) > 0 {
		descriptor := map[string]any{
			"name":      "manifest",
			"profile":   "data-package",
			"created":   time.Now().Format(time.RFC3339),
			"resources": resources,
		}
		manifest, err := datapackage.New(descriptor, ".")
		if err != nil {
			s.session.Warn("couldn't build acquisition manifest: %s", err.Error())
		} else {
			record.Manifest = manifest
		}
	}
	if err := journal.RecordAcquisition(record); err != nil {
		s.session.Warn("couldn't record acquisition: %s", err.Error())
	}
}

// derives a data-package resource name (lower-case alphanumerics, dashes)
// from a logical path
func resourceName(path string) string {
	base := filepath.Base(path)
	name := make([]rune, 0, len(base))
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			name = append(name, r)
		case r >= 'A' && r <= 'Z':
			name = append(name, r+('a'-'A'))
		default:
			name = append(name, '-')
		}
	}
	return string(name)
}
