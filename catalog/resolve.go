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
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esgf2-us/esgcat/indices"
)

// the ways a file's bytes can be obtained, in preference order
const (
	KindDataRoot = "local-dataroot"
	KindCache    = "local-cache"
	KindOpenDAP  = "opendap-stream"
	KindHTTP     = "http"
	KindGlobus   = "globus"
)

// one way to obtain a file's bytes
type AccessCandidate struct {
	// candidate kind (see the Kind constants)
	Kind string `json:"kind"`
	// local path or remote URL
	Location string `json:"location"`
	// host identity used for performance ranking ("" for local kinds)
	Host string `json:"host"`
}

// local kinds are terminal: the bytes are already on disk
func (c AccessCandidate) Local() bool {
	return c.Kind == KindDataRoot || c.Kind == KindCache
}

// A FileRecord is the merged view of one logical file across all replicas
// that report it, with its access candidates in preference order.
type FileRecord struct {
	// key of the dataset the file belongs to
	Key string `json:"key"`
	// logical relative path (mirrored into the local cache)
	Path string `json:"path"`
	// size in bytes
	Size int64 `json:"size"`
	// content checksum and algorithm ("" when no replica reports one)
	Checksum     string `json:"checksum"`
	ChecksumType string `json:"checksum_type"`
	// access candidates, most preferred first
	Candidates []AccessCandidate `json:"candidates"`
	// time extent covered by the file (parsed from its name; zero if unknown)
	FileStart time.Time `json:"file_start,omitempty"`
	FileEnd   time.Time `json:"file_end,omitempty"`
}

// Resolves the given merged datasets to deduplicated file records. Every
// index that reported a dataset is re-queried (with the full ids it
// reported) for file-level records; entries describing the same logical
// file merge into one record whose candidates accumulate across replicas.
// A checksum conflict between replicas of the same path is an
// AmbiguousResolutionError. Candidates are ordered local dataroot, then
// local cache, then remote locations; when the query carries a time window,
// files whose parsed extent falls outside it are dropped.
func (c *Catalog) ResolveFiles(ctx context.Context, datasets []Dataset,
	query indices.Query) ([]FileRecord, error) {
	query = query.WithDefaults()

	// group the full reported ids by reporting index
	idsByIndex := make(map[string][]string)
	keyById := make(map[string]string)
	for _, dataset := range datasets {
		for _, p := range dataset.Provenance {
			idsByIndex[p.Index] = append(idsByIndex[p.Index], p.Id)
			keyById[p.Id] = dataset.Key
		}
	}

	// re-query each reporting index concurrently
	type fileReport struct {
		index string
		infos []indices.FileInfo
		err   error
	}
	reports := make([]fileReport, 0, len(idsByIndex))
	for name := range idsByIndex {
		reports = append(reports, fileReport{index: name})
	}
	var group errgroup.Group
	for i := range reports {
		group.Go(func() error {
			report := &reports[i]
			index, err := c.indexNamed(report.index)
			if err != nil {
				report.err = err
				return nil
			}
			timeout := time.Duration(c.conf.Indices[report.index].Timeout) * time.Second
			indexCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			report.infos, report.err = index.FileInfo(indexCtx, idsByIndex[report.index], query)
			return nil
		})
	}
	group.Wait()

	// merge per-replica file entries into logical records
	records := make(map[string]*FileRecord)
	for _, report := range reports {
		if report.err != nil {
			c.session.Warn("index '%s' failed to report files: %s",
				report.index, report.err.Error())
			continue
		}
		for _, info := range report.infos {
			if err := mergeFileInfo(records, info, keyById[info.DatasetId]); err != nil {
				return nil, err
			}
		}
	}

	resolved := make([]FileRecord, 0, len(records))
	for _, record := range records {
		record.FileStart, record.FileEnd = timeExtent(record.Path)
		if !inWindow(*record, query) {
			continue
		}
		record.Candidates = c.orderCandidates(*record)
		resolved = append(resolved, *record)
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].Path < resolved[j].Path
	})
	c.session.Log("resolve", "resolved %d datasets to %d files",
		len(datasets), len(resolved))
	return resolved, nil
}

// Folds one replica's file entry into the logical record table. The merge
// key is the logical path; replicas of the same path must agree on checksum
// (or, when checksums are missing, on size).
func mergeFileInfo(records map[string]*FileRecord, info indices.FileInfo,
	datasetKey string) error {
	record, found := records[info.Path]
	if !found {
		record = &FileRecord{
			Key:          datasetKey,
			Path:         info.Path,
			Size:         info.Size,
			Checksum:     info.Checksum,
			ChecksumType: info.ChecksumType,
		}
		records[info.Path] = record
	} else {
		if record.Checksum != "" && info.Checksum != "" &&
			record.Checksum != info.Checksum {
			return &AmbiguousResolutionError{
				Path:      info.Path,
				Checksums: []string{record.Checksum, info.Checksum},
			}
		}
		if record.Checksum == "" {
			record.Checksum = info.Checksum
			record.ChecksumType = info.ChecksumType
		}
		if record.Size == 0 {
			record.Size = info.Size
		}
	}

	// accumulate this replica's locations as access candidates
	for method, kind := range map[string]string{
		indices.AccessHTTP:    KindHTTP,
		indices.AccessOpenDAP: KindOpenDAP,
		indices.AccessGlobus:  KindGlobus,
	} {
		for _, location := range info.Urls[method] {
			duplicate := false
			for _, existing := range record.Candidates {
				if existing.Location == location {
					duplicate = true
					break
				}
			}
			if !duplicate {
				record.Candidates = append(record.Candidates, AccessCandidate{
					Kind:     kind,
					Location: location,
					Host:     indices.HostOf(location),
				})
			}
		}
	}
	return nil
}

// Orders a file's candidates: a verified local dataroot hit first, then a
// verified local cache hit, then remote candidates. Streaming candidates
// lead the remote set when the configuration prefers them, but never
// outrank local hits. Stale or partial local files are not hits.
func (c *Catalog) orderCandidates(record FileRecord) []AccessCandidate {
	ordered := make([]AccessCandidate, 0, len(record.Candidates)+2)

	for _, root := range c.conf.Data.DataRoots {
		path := filepath.Join(root, record.Path)
		if localFileValid(path, record.Size) {
			ordered = append(ordered, AccessCandidate{Kind: KindDataRoot, Location: path})
			break
		}
	}
	for _, root := range c.conf.Data.LocalCache {
		path := filepath.Join(root, record.Path)
		if localFileValid(path, record.Size) {
			ordered = append(ordered, AccessCandidate{Kind: KindCache, Location: path})
			break
		}
	}

	remote := append([]AccessCandidate(nil), record.Candidates...)
	if c.conf.Fetch.PreferStreaming {
		sort.SliceStable(remote, func(i, j int) bool {
			return remote[i].Kind == KindOpenDAP && remote[j].Kind != KindOpenDAP
		})
	}
	return append(ordered, remote...)
}

// reports whether a local file exists with the expected size (size 0 means
// the replicas never reported one, so existence suffices)
func localFileValid(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return size == 0 || info.Size() == size
}

// file names carry their time extent as a trailing YYYYMM[DD]-YYYYMM[DD]
// segment (fixed-frequency files have none)
var extentPattern = regexp.MustCompile(`_([0-9]{6,8})-([0-9]{6,8})\.[A-Za-z0-9]+$`)

// parses a file's covered time extent from its logical path; zero times
// mean the name carries no extent
func timeExtent(path string) (start, end time.Time) {
	match := extentPattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return start, end
	}
	start = parseStamp(match[1], false)
	end = parseStamp(match[2], true)
	return start, end
}

func parseStamp(stamp string, roundUp bool) time.Time {
	var t time.Time
	var err error
	switch len(stamp) {
	case 6:
		t, err = time.Parse("200601", stamp)
		if err == nil && roundUp {
			t = t.AddDate(0, 1, 0).Add(-time.Second)
		}
	case 8:
		t, err = time.Parse("20060102", stamp)
		if err == nil && roundUp {
			t = t.AddDate(0, 0, 1).Add(-time.Second)
		}
	}
	if err != nil {
		return time.Time{}
	}
	return t
}

// Reports whether a file overlaps the query's time window. Files without a
// parsed extent always pass (fixed fields have no extent to test), as do
// queries without bounds.
func inWindow(record FileRecord, query indices.Query) bool {
	if record.FileStart.IsZero() && record.FileEnd.IsZero() {
		return true
	}
	if !query.FileStart.IsZero() && !record.FileEnd.IsZero() &&
		record.FileEnd.Before(query.FileStart) {
		return false
	}
	if !query.FileEnd.IsZero() && !record.FileStart.IsZero() &&
		record.FileStart.After(query.FileEnd) {
		return false
	}
	return true
}

// returns the logical paths of the given records, keyed by dataset key (the
// shape consumed by array-loading layers)
func PathsByKey(records []FileRecord, locations map[string]string) map[string][]string {
	paths := make(map[string][]string)
	for _, record := range records {
		if location, found := locations[record.Path]; found {
			paths[record.Key] = append(paths[record.Key], location)
		}
	}
	for _, list := range paths {
		sort.Strings(list)
	}
	return paths
}
