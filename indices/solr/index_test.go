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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/indices"
)

const datasetDoc = `{
	"id": "CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn.v20190308|esgf.node.gov",
	"master_id": "CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn",
	"mip_era": ["CMIP6"],
	"activity_drs": ["CMIP"],
	"institution_id": ["NCAR"],
	"source_id": ["CESM2"],
	"experiment_id": ["historical"],
	"member_id": ["r1i1p1f1"],
	"table_id": ["Amon"],
	"variable_id": ["tas"],
	"grid_label": ["gn"]
}`

const fileDoc = `{
	"dataset_id": "CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn.v20190308|esgf.node.gov",
	"title": "tas_Amon_CESM2_historical_r1i1p1f1_gn_185001-201412.nc",
	"size": 245831502,
	"checksum": ["abc123"],
	"checksum_type": ["SHA256"],
	"url": [
		"https://esgf.node.gov/thredds/fileServer/css03_data/tas.nc|application/netcdf|HTTPServer",
		"https://esgf.node.gov/thredds/dodsC/css03_data/tas.nc.html|application/opendap|OPENDAP"
	]
}`

// serves a single-page esg-search response containing the given documents
func singlePageServer(t *testing.T, docs ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esg-search/search", r.URL.Path)
		assert.Equal(t, "application/solr+json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		body := ""
		for i, doc := range docs {
			if i > 0 {
				body += ","
			}
			body += doc
		}
		fmt.Fprintf(w, `{"response": {"numFound": %d, "start": 0, "docs": [%s]}}`,
			len(docs), body)
	}))
}

func indexWithURL(t *testing.T, url string) indices.Index {
	index, err := NewIndex(config.IndexConfig{
		Name:     "test-solr",
		Provider: "solr",
		URL:      url,
		Timeout:  5,
	})
	assert.Nil(t, err)
	return index
}

func TestNewIndex(t *testing.T) {
	assert := assert.New(t)
	index := indexWithURL(t, "https://esgf.node.gov")
	assert.Equal("test-solr", index.Name())
}

func TestNewIndexRejectsWrongProvider(t *testing.T) {
	assert := assert.New(t)
	index, err := NewIndex(config.IndexConfig{Name: "bad", Provider: "globus"})
	assert.Nil(index)
	assert.NotNil(err)
}

func TestNewIndexRequiresURL(t *testing.T) {
	assert := assert.New(t)
	index, err := NewIndex(config.IndexConfig{Name: "bad", Provider: "solr"})
	assert.Nil(index)
	assert.NotNil(err)
}

func TestSearch(t *testing.T) {
	assert := assert.New(t)
	server := singlePageServer(t, datasetDoc)
	defer server.Close()

	index := indexWithURL(t, server.URL)
	query := indices.Query{Facets: map[string][]string{
		"project":     {"CMIP6"},
		"variable_id": {"tas"},
	}}
	records, err := index.Search(context.Background(), query)
	assert.Nil(err)
	assert.Equal(1, len(records))
	assert.Equal("CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn.v20190308|esgf.node.gov",
		records[0].Id)
	assert.Equal("test-solr", records[0].Index)
	assert.Equal([]string{"tas"}, records[0].Facets["variable_id"])
	assert.Equal([]string{"CESM2"}, records[0].Facets["source_id"])
}

func TestSearchPaginates(t *testing.T) {
	assert := assert.New(t)
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &start)
		pages++
		fmt.Fprintf(w, `{"response": {"numFound": 2, "start": %d, "docs": [%s]}}`,
			start, datasetDoc)
	}))
	defer server.Close()

	index := indexWithURL(t, server.URL)
	records, err := index.Search(context.Background(), indices.Query{})
	assert.Nil(err)
	assert.Equal(2, len(records))
	assert.Equal(2, pages)
}

func TestSearchReportsUnavailableIndex(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	index := indexWithURL(t, server.URL)
	records, err := index.Search(context.Background(), indices.Query{})
	assert.Nil(records)
	assert.IsType(&indices.UnavailableError{}, err)
}

func TestSearchReportsInvalidResponse(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	index := indexWithURL(t, server.URL)
	records, err := index.Search(context.Background(), indices.Query{})
	assert.Nil(records)
	assert.IsType(&indices.InvalidResponseError{}, err)
}

func TestFileInfo(t *testing.T) {
	assert := assert.New(t)
	server := singlePageServer(t, fileDoc)
	defer server.Close()

	index := indexWithURL(t, server.URL)
	query := indices.Query{Facets: map[string][]string{
		"project":     {"CMIP6"},
		"variable_id": {"tas"},
	}}
	infos, err := index.FileInfo(context.Background(),
		[]string{"CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn.v20190308|esgf.node.gov"},
		query)
	assert.Nil(err)
	assert.Equal(1, len(infos))
	info := infos[0]
	assert.Equal("CMIP6/CMIP/NCAR/CESM2/historical/r1i1p1f1/Amon/tas/gn/v20190308/"+
		"tas_Amon_CESM2_historical_r1i1p1f1_gn_185001-201412.nc", info.Path)
	assert.Equal(int64(245831502), info.Size)
	assert.Equal("abc123", info.Checksum)
	assert.Equal("sha256", info.ChecksumType)
	assert.Equal(1, len(info.Urls[indices.AccessHTTP]))
	// the .html suffix is trimmed from OPeNDAP locations
	assert.Equal("https://esgf.node.gov/thredds/dodsC/css03_data/tas.nc",
		info.Urls[indices.AccessOpenDAP][0])
}
