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

// Helpers shared by the index adapters for extracting the common record
// schema from decoded JSON documents, whose facet values arrive sometimes as
// strings and sometimes as single-element lists.

import (
	"strings"
)

// returns the values of a facet in a decoded document, tolerating both
// string and list-of-string encodings
func FacetValues(doc map[string]any, facet string) []string {
	switch value := doc[facet].(type) {
	case string:
		return []string{value}
	case []any:
		values := make([]string, 0, len(value))
		for _, v := range value {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		return values
	}
	return nil
}

// returns the first value of a facet in a decoded document, or ""
func FirstValue(doc map[string]any, facet string) string {
	if values := FacetValues(doc, facet); len(values) > 0 {
		return values[0]
	}
	return ""
}

// builds a DatasetRecord from a decoded document, retaining the facets
// appropriate for the query's project
func RecordFromDocument(indexName, id string, doc map[string]any, query Query) DatasetRecord {
	record := DatasetRecord{
		Id:     id,
		Index:  indexName,
		Facets: make(map[string][]string),
	}
	for _, facet := range SearchFacets(query) {
		if values := FacetValues(doc, facet); len(values) > 0 {
			record.Facets[facet] = values
		}
	}
	return record
}

// Derives a file's logical relative path from its dataset id and file name.
// The id has the form master.id.facets.vVERSION|data_node; the logical path
// mirrors the id's facet structure:
//
//	CMIP6.CMIP.NCAR.CESM2.historical.r1i1p1f1.Amon.tas.gn.v20190308|node
//	-> CMIP6/CMIP/NCAR/CESM2/historical/r1i1p1f1/Amon/tas/gn/v20190308/<name>
func LogicalPath(datasetId, fileName string) string {
	id := datasetId
	if i := strings.IndexByte(id, '|'); i >= 0 {
		id = id[:i]
	}
	return strings.ReplaceAll(id, ".", "/") + "/" + fileName
}

// returns the data node suffix of a full dataset id ("" if absent)
func DataNode(datasetId string) string {
	if i := strings.IndexByte(datasetId, '|'); i >= 0 {
		return datasetId[i+1:]
	}
	return ""
}

// Parses the url entries of a file document into an access table. ESGF
// indices publish each location as "href|mime type|access method".
func ParseUrls(doc map[string]any) map[string][]string {
	urls := make(map[string][]string)
	for _, entry := range FacetValues(doc, "url") {
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			continue
		}
		href, method := parts[0], parts[2]
		// normalize OPeNDAP hrefs, which are published with an .html suffix
		if method == AccessOpenDAP {
			href = strings.TrimSuffix(href, ".html")
		}
		urls[method] = append(urls[method], href)
	}
	return urls
}
