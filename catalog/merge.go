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

package catalog

import (
	"regexp"
	"sort"
	"strings"

	"github.com/esgf2-us/esgcat/indices"
)

// One report of a dataset by one index: the index's name, the full dataset
// id it reported (which is also the continuation token for file queries),
// and the data node the id points at.
type Provenance struct {
	Index    string `json:"index"`
	Id       string `json:"id"`
	DataNode string `json:"data_node"`
}

// A Dataset is the merged view of one logical dataset across all reporting
// indices and replicas: a normalized key (full id stripped of version and
// data node), the union of all reported facet values, and the provenance of
// every report.
type Dataset struct {
	// normalized dataset key
	Key string `json:"key"`
	// facet name -> union of reported values (conflicts kept)
	Facets map[string][]string `json:"facets"`
	// every (index, full id) pair that reported this dataset
	Provenance []Provenance `json:"provenance"`
}

var versionSuffix = regexp.MustCompile(`\.v?[0-9]{4,}$`)

// Splits a full dataset id (master.id.vVERSION|data_node) into its
// normalized key and version. Ids lacking a version or node suffix
// normalize to themselves.
func NormalizeId(id string) (key, version string) {
	key = id
	if i := strings.IndexByte(key, '|'); i >= 0 {
		key = key[:i]
	}
	if loc := versionSuffix.FindStringIndex(key); loc != nil {
		version = key[loc[0]+1:]
		key = key[:loc[0]]
	}
	return key, version
}

// Merges per-index dataset reports into logical datasets. Reports merge by
// normalized key; facet values are unioned with conflicts kept; duplicate
// reports are idempotent. When replicas disagree on the dataset version,
// only reports carrying the maximum version are retained (stale replicas
// are silently superseded). The result is sorted by key.
func mergeRecords(records []indices.DatasetRecord) []Dataset {
	type entry struct {
		dataset    Dataset
		maxVersion string
		versions   map[string]string // provenance id -> version
	}
	merged := make(map[string]*entry)

	for _, record := range records {
		key, version := NormalizeId(record.Id)
		e, found := merged[key]
		if !found {
			e = &entry{
				dataset: Dataset{
					Key:    key,
					Facets: make(map[string][]string),
				},
				versions: make(map[string]string),
			}
			merged[key] = e
		}

		// union the reported facet values
		for facet, values := range record.Facets {
			for _, value := range values {
				if !contains(e.dataset.Facets[facet], value) {
					e.dataset.Facets[facet] = append(e.dataset.Facets[facet], value)
				}
			}
		}

		// record provenance once per (index, id) pair
		duplicate := false
		for _, p := range e.dataset.Provenance {
			if p.Index == record.Index && p.Id == record.Id {
				duplicate = true
				break
			}
		}
		if !duplicate {
			e.dataset.Provenance = append(e.dataset.Provenance, Provenance{
				Index:    record.Index,
				Id:       record.Id,
				DataNode: indices.DataNode(record.Id),
			})
			e.versions[record.Id] = version
			if version > e.maxVersion {
				e.maxVersion = version
			}
		}
	}

	datasets := make([]Dataset, 0, len(merged))
	for _, e := range merged {
		// drop reports of superseded versions
		retained := make([]Provenance, 0, len(e.dataset.Provenance))
		for _, p := range e.dataset.Provenance {
			if e.versions[p.Id] == e.maxVersion {
				retained = append(retained, p)
			}
		}
		e.dataset.Provenance = retained
		datasets = append(datasets, e.dataset)
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].Key < datasets[j].Key
	})
	return datasets
}

// control facets that constrain index behavior rather than dataset metadata
var controlFacets = map[string]bool{
	"latest":    true,
	"retracted": true,
	"replica":   true,
}

// Drops merged datasets carrying facet values the query did not request.
// Only facets both constrained by the query and reported by the dataset are
// checked; control facets never count.
func strictFilter(datasets []Dataset, query indices.Query) []Dataset {
	kept := make([]Dataset, 0, len(datasets))
	for _, dataset := range datasets {
		matches := true
		for facet, requested := range query.Facets {
			if controlFacets[facet] {
				continue
			}
			reported, found := dataset.Facets[facet]
			if !found {
				continue
			}
			for _, value := range reported {
				if !contains(requested, value) {
					matches = false
					break
				}
			}
			if !matches {
				break
			}
		}
		if matches {
			kept = append(kept, dataset)
		}
	}
	return kept
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
