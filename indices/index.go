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

package indices

import (
	"context"
	"strings"
	"time"
)

// A Query is an immutable request for datasets: each facet maps to one or
// more accepted values (OR within a facet, AND across facets). Optional
// inclusive time-window bounds restrict file-level results, and the Strict
// flag drops merged datasets carrying facet values that were not requested.
type Query struct {
	// facet name -> accepted values
	Facets map[string][]string
	// inclusive time-window bounds on file temporal coverage (zero = unbounded)
	FileStart, FileEnd time.Time
	// when true, datasets whose constrained facets carry unrequested values
	// are dropped after the merge
	Strict bool
}

// returns a copy of the query with the federation's default facets applied
// where the caller left them unconstrained
func (q Query) WithDefaults() Query {
	clone := q.Clone()
	defaults := map[string][]string{
		"project":   {"CMIP6"},
		"latest":    {"true"},
		"retracted": {"false"},
	}
	for facet, values := range defaults {
		if len(clone.Facets[facet]) == 0 {
			clone.Facets[facet] = values
		}
	}
	return clone
}

// returns a deep copy of the query's facet mapping
func (q Query) Clone() Query {
	clone := q
	clone.Facets = make(map[string][]string, len(q.Facets))
	for facet, values := range q.Facets {
		clone.Facets[facet] = append([]string(nil), values...)
	}
	return clone
}

// returns the project constrained by the query ("CMIP6" etc.), or ""
func (q Query) Project() string {
	if values := q.Facets["project"]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// A DatasetRecord describes one dataset as reported by one index. The Id is
// the backend's full dataset identifier, which carries a version and data
// node suffix (master_id.vVERSION|data_node) and doubles as the continuation
// token for follow-up file queries.
type DatasetRecord struct {
	// full dataset identifier as reported
	Id string
	// name of the reporting index
	Index string
	// facet name -> values reported for this dataset
	Facets map[string][]string
}

// access method labels used in FileInfo URL tables (these match the link
// types ESGF indices publish)
const (
	AccessHTTP    = "HTTPServer"
	AccessOpenDAP = "OPENDAP"
	AccessGlobus  = "Globus"
)

// A FileInfo describes one file belonging to a dataset, as reported by one
// index. The same logical file is typically reported by several replicas.
type FileInfo struct {
	// full identifier of the dataset this file belongs to
	DatasetId string
	// logical relative path (mirrors the remote directory structure)
	Path string
	// size in bytes
	Size int64
	// content checksum and its algorithm ("md5", "sha256", ...)
	Checksum     string
	ChecksumType string
	// access method -> locations (URLs)
	Urls map[string][]string
}

// Index defines the interface for a metadata index that is queried for
// dataset- and file-level records. Implementations normalize one backend
// family's query/response shapes into the common record schema above.
type Index interface {
	// returns the name of the index
	Name() string
	// searches for dataset-level records matching the query
	Search(ctx context.Context, query Query) ([]DatasetRecord, error)
	// fetches file-level records for the datasets with the given full ids
	FileInfo(ctx context.Context, datasetIds []string, query Query) ([]FileInfo, error)
}

// Extracts the host identity from an access URL, used to key performance
// ledger samples. Globus locations (globus:<uuid>/path) are keyed by their
// endpoint UUID.
func HostOf(location string) string {
	s := location
	for _, prefix := range []string{"http://", "https://", "globus:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "//")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
