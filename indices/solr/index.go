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

package solr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
)

// This file implements an adapter for ESGF1-style Solr indices, queried
// through the esg-search REST API.

const pageSize = 1000

// this type satisfies the indices.Index interface for Solr indices
type Index struct {
	// descriptive index name (obtained from config)
	name string
	// base URL of the index node
	url string
	// HTTP client with HSTS enabled
	client http.Client
}

// creates a new Solr index adapter using the information supplied in the
// configuration under the given index name
func NewIndex(conf config.IndexConfig) (indices.Index, error) {
	if conf.Provider != "solr" {
		return nil, fmt.Errorf("'%s' is not a solr index", conf.Name)
	}
	if conf.URL == "" {
		return nil, fmt.Errorf("Solr index '%s' has no URL", conf.Name)
	}
	return &Index{
		name:   conf.Name,
		url:    strings.TrimSuffix(conf.URL, "/"),
		client: indices.SecureHttpClient(time.Duration(conf.Timeout) * time.Second),
	}, nil
}

func (index *Index) Name() string {
	return index.name
}

// the layout of an esg-search JSON response
type searchResponse struct {
	Response struct {
		NumFound int              `json:"numFound"`
		Start    int              `json:"start"`
		Docs     []map[string]any `json:"docs"`
	} `json:"response"`
}

// issues one page of an esg-search query
// (https://esgf.github.io/esg-search/ESGF_Search_RESTful_API.html)
func (index *Index) searchPage(ctx context.Context, params url.Values) (searchResponse, error) {
	var page searchResponse

	u := fmt.Sprintf("%s/esg-search/search?%s", index.url, params.Encode())
	slog.Debug(fmt.Sprintf("GET: %s", u))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return page, err
	}
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

// issues a paginated esg-search query, invoking handleDoc for every document
func (index *Index) search(ctx context.Context, params url.Values,
	handleDoc func(doc map[string]any)) error {
	params.Set("format", "application/solr+json")
	params.Set("limit", strconv.Itoa(pageSize))

	offset := 0
	for {
		params.Set("offset", strconv.Itoa(offset))
		page, err := index.searchPage(ctx, params)
		if err != nil {
			return err
		}
		for _, doc := range page.Response.Docs {
			handleDoc(doc)
		}
		offset = page.Response.Start + len(page.Response.Docs)
		if offset >= page.Response.NumFound || len(page.Response.Docs) == 0 {
			break
		}
	}
	return nil
}

// translates a query's facet constraints into esg-search parameters
// (multiple accepted values for one facet are comma-joined, which the API
// treats as an OR set)
func queryParams(query indices.Query) url.Values {
	params := url.Values{}
	for facet, values := range query.Facets {
		params.Set(facet, strings.Join(values, ","))
	}
	return params
}

func (index *Index) Search(ctx context.Context, query indices.Query) ([]indices.DatasetRecord, error) {
	params := queryParams(query)
	params.Set("type", "Dataset")

	queryTime := time.Now()
	records := make([]indices.DatasetRecord, 0)
	err := index.search(ctx, params, func(doc map[string]any) {
		id := indices.FirstValue(doc, "id")
		if id == "" {
			return
		}
		records = append(records, indices.RecordFromDocument(index.name, id, doc, query))
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
	params := url.Values{}
	params.Set("type", "File")
	params.Set("dataset_id", strings.Join(datasetIds, ","))
	// restrict to the variable(s) of the original search, since some
	// projects key whole variable collections by one dataset id
	if project, err := indices.ProjectFor(query.Project()); err == nil {
		if values := query.Facets[project.VariableFacet]; len(values) > 0 {
			params.Set(project.VariableFacet, strings.Join(values, ","))
		}
	}

	queryTime := time.Now()
	infos := make([]indices.FileInfo, 0)
	err := index.search(ctx, params, func(doc map[string]any) {
		info := fileInfoFromDocument(doc)
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

// extracts the common file schema from an esg-search File document
func fileInfoFromDocument(doc map[string]any) indices.FileInfo {
	info := indices.FileInfo{
		DatasetId:    indices.FirstValue(doc, "dataset_id"),
		Checksum:     indices.FirstValue(doc, "checksum"),
		ChecksumType: strings.ToLower(indices.FirstValue(doc, "checksum_type")),
		Urls:         indices.ParseUrls(doc),
	}
	if size, ok := doc["size"].(float64); ok {
		info.Size = int64(size)
	}
	if title := indices.FirstValue(doc, "title"); title != "" && info.DatasetId != "" {
		info.Path = indices.LogicalPath(info.DatasetId, title)
	}
	return info
}
