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

// Package catalog implements the federation query engine: it fans a facet
// query out to every enabled index concurrently, merges the per-index
// reports into logical datasets, resolves selected datasets to deduplicated
// file records with ranked access candidates, and locates ancillary
// (companion) records via relaxed search.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
	"github.com/esgf2-us/esgcat/journal"
)

type Catalog struct {
	conf config.Config
	// enabled indices, in configuration order
	indices []indices.Index
	// session event log (created with the catalog, never shared)
	session *journal.Session

	// the current result set; each Search call replaces it
	mutex    sync.Mutex
	datasets []Dataset
}

// Creates a catalog backed by the indices enabled in the given
// configuration. Each catalog gets its own empty session log.
func New(conf config.Config) (*Catalog, error) {
	enabled := conf.EnabledIndices()
	backends := make([]indices.Index, 0, len(enabled))
	for _, name := range enabled {
		index, err := indices.New(name, conf.Indices[name])
		if err != nil {
			return nil, err
		}
		backends = append(backends, index)
	}
	return &Catalog{
		conf:    conf,
		indices: backends,
		session: journal.NewSession(),
	}, nil
}

// returns the catalog's session log
func (c *Catalog) Session() *journal.Session {
	return c.session
}

// returns the names of the catalog's enabled indices
func (c *Catalog) Indices() []string {
	names := make([]string, len(c.indices))
	for i, index := range c.indices {
		names[i] = index.Name()
	}
	return names
}

// the outcome of one index's part in a federated search
type indexReport struct {
	index   string
	records []indices.DatasetRecord
	elapsed time.Duration
	err     error
}

// Performs a federated search: the query (with engine defaults applied) is
// issued to every enabled index concurrently, each bounded by its own
// configured timeout. An index that fails or times out contributes zero
// records and one warning; it never aborts the search. The merged result
// set replaces the catalog's current one.
func (c *Catalog) Search(ctx context.Context, query indices.Query) ([]Dataset, error) {
	query = query.WithDefaults()
	c.session.Log("search", "querying %d indices", len(c.indices))

	reports := make([]indexReport, len(c.indices))
	var group errgroup.Group
	for i, index := range c.indices {
		group.Go(func() error {
			timeout := time.Duration(c.conf.Indices[index.Name()].Timeout) * time.Second
			indexCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			started := time.Now()
			records, err := index.Search(indexCtx, query)
			reports[i] = indexReport{
				index:   index.Name(),
				records: records,
				elapsed: time.Since(started),
				err:     err,
			}
			return nil // index failures are warnings, never errors
		})
	}
	group.Wait()

	allRecords := make([]indices.DatasetRecord, 0)
	for _, report := range reports {
		if report.err != nil {
			c.session.Warn("index '%s' failed: %s", report.index, report.err.Error())
			continue
		}
		c.session.Log("search", "index '%s' reported %d datasets in %.2f s",
			report.index, len(report.records), report.elapsed.Seconds())
		allRecords = append(allRecords, report.records...)
	}

	datasets := mergeRecords(allRecords)
	if query.Strict {
		datasets = strictFilter(datasets, query)
	}
	c.session.Log("search", "merged %d reports into %d datasets",
		len(allRecords), len(datasets))
	if len(datasets) == 0 {
		return nil, &NoResultsError{}
	}

	c.mutex.Lock()
	c.datasets = datasets
	c.mutex.Unlock()
	return datasets, nil
}

// returns the catalog's current result set (the one produced by the most
// recent Search call)
func (c *Catalog) Datasets() []Dataset {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Dataset(nil), c.datasets...)
}

// returns the enabled index with the given name
func (c *Catalog) indexNamed(name string) (indices.Index, error) {
	for _, index := range c.indices {
		if index.Name() == name {
			return index, nil
		}
	}
	return nil, fmt.Errorf("'%s' is not an enabled index", name)
}
