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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
)

// This file implements an adapter for Globus Search indices using the
// post_search API described at https://docs.globus.org/api/search/.

const (
	globusSearchBaseURL = "https://search.api.globus.org"
	pageSize            = 1000
)

// this type satisfies the indices.Index interface for Globus Search indices
type Index struct {
	// descriptive index name (obtained from config)
	name string
	// base URL of the search service
	url string
	// Globus Search index ID
	indexId string
	// HTTP client with HSTS enabled
	client http.Client
}

// creates a new Globus Search index adapter using the information supplied
// in the configuration under the given index name
func NewIndex(conf config.IndexConfig) (indices.Index, error) {
	if conf.Provider != "globus" {
		return nil, fmt.Errorf("'%s' is not a globus index", conf.Name)
	}
	if conf.IndexId == "" {
		return nil, fmt.Errorf("Globus index '%s' has no index_id", conf.Name)
	}
	baseURL := conf.URL
	if baseURL == "" {
		baseURL = globusSearchBaseURL
	}
	return &Index{
		name:    conf.Name,
		url:     strings.TrimSuffix(baseURL, "/"),
		indexId: conf.IndexId,
		client:  indices.SecureHttpClient(time.Duration(conf.Timeout) * time.Second),
	}, nil
}

func (index *Index) Name() string {
	return index.name
}

// a match_any filter in a post_search request
// (https://docs.globus.org/api/search/reference/post_query/#gfilter)
type gFilter struct {
	Type      string   `json:"type"` // "match_any"
	FieldName string   `json:"field_name"`
	Values    []string `json:"values"`
}

type searchRequest struct {
	Q       string    `json:"q"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
	Filters []gFilter `json:"filters"`
}

// the layout of a post_search JSON response
type searchResponse struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	GMeta  []struct {
		Subject string `json:"subject"`
		Entries []struct {
			Content map[string]any `json:"content"`
		} `json:"entries"`
	} `json:"gmeta"`
}

// issues one page of a post_search query
func (index *Index) searchPage(ctx context.Context, request searchRequest) (searchResponse, error) {
	var page searchResponse

	data, err := json.Marshal(request)
	if err != nil {
		return page, err
	}
	u := fmt.Sprintf("%s/v1/index/%s/search", index.url, index.indexId)
	slog.Debug(fmt.Sprintf("POST: %s", u))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return page, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := index.client.Do(req)
	if err != nil {
		return page, &indices.UnavailableError{Index: index.name, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return page, &indices.UnavailableError{
			Index:   index.name,
			Message: fmt.Sprintf("query returned status %d", resp.StatusCode),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page, &indices.UnavailableError{Index: index.name, Message: err.Error()}
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return page, &indices.InvalidResponseError{Index: index.name, Message: err.Error()}
	}
	return page, nil
}

// issues a paginated post_search query, invoking handleEntry for every
// subject/content pair
func (index *Index) search(ctx context.Context, filters []gFilter,
	handleEntry func(subject string, content map[string]any)) error {
	request := searchRequest{
		Q:       "",
		Limit:   pageSize,
		Filters: filters,
	}
	offset := 0
	for {
		request.Offset = offset
		page, err := index.searchPage(ctx, request)
		if err != nil {
			return err
		}
		for _, g := range page.GMeta {
			if len(g.Entries) > 0 {
				handleEntry(g.Subject, g.Entries[0].Content)
			}
		}
		offset += len(page.GMeta)
		if offset >= page.Total || len(page.GMeta) == 0 {
			break
		}
	}
	return nil
}

// translates a query's facet constraints into match_any filters
func queryFilters(query indices.Query) []gFilter {
	filters := make([]gFilter, 0, len(query.Facets))
	for facet, values := range query.Facets {
		filters = append(filters, gFilter{
			Type:      "match_any",
			FieldName: facet,
			Values:    values,
		})
	}
	return filters
}

func (index *Index) Search(ctx context.Context, query indices.Query) ([]indices.DatasetRecord, error) {
	filters := queryFilters(query)
	filters = append(filters, gFilter{
		Type:      "match_any",
		FieldName: "type",
		Values:    []string{"Dataset"},
	})

	queryTime := time.Now()
	records := make([]indices.DatasetRecord, 0)
	err := index.search(ctx, filters, func(subject string, content map[string]any) {
		records = append(records, indices.RecordFromDocument(index.name, subject, content, query))
	})
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s: %d dataset records in %.2f s", index.name,
		len(records), time.Since(queryTime).Seconds()))
	return records, nil
}

func (index *Index) FileInfo(ctx context.Context, datasetIds []string,
	query indices.Query) ([]indices.FileInfo, error) {
	filters := []gFilter{
		{Type: "match_any", FieldName: "type", Values: []string{"File"}},
		{Type: "match_any", FieldName: "dataset_id", Values: datasetIds},
	}
	if project, err := indices.ProjectFor(query.Project()); err == nil {
		if values := query.Facets[project.VariableFacet]; len(values) > 0 {
			filters = append(filters, gFilter{
				Type:      "match_any",
				FieldName: project.VariableFacet,
				Values:    values,
			})
		}
	}

	queryTime := time.Now()
	infos := make([]indices.FileInfo, 0)
	err := index.search(ctx, filters, func(subject string, content map[string]any) {
		info := fileInfoFromContent(content)
		if info.Path != "" {
			infos = append(infos, info)
		}
	})
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s: %d file records in %.2f s", index.name,
		len(infos), time.Since(queryTime).Seconds()))
	return infos, nil
}

// extracts the common file schema from a Globus Search File entry
func fileInfoFromContent(content map[string]any) indices.FileInfo {
	info := indices.FileInfo{
		DatasetId:    indices.FirstValue(content, "dataset_id"),
		Checksum:     indices.FirstValue(content, "checksum"),
		ChecksumType: strings.ToLower(indices.FirstValue(content, "checksum_type")),
		Urls:         indices.ParseUrls(content),
	}
	if size, ok := content["size"].(float64); ok {
		info.Size = int64(size)
	}
	if title := indices.FirstValue(content, "title"); title != "" && info.DatasetId != "" {
		info.Path = indices.LogicalPath(info.DatasetId, title)
	}
	return info
}
