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
	"errors"

	"github.com/esgf2-us/esgcat/indices"
)

// Ancillary (companion) records — cell areas, land fractions and other
// fixed fields — are stored as datasets of their own and are often published
// only for a subset of a model's experiments and variants. Locating one for
// a primary dataset therefore searches with the primary's facets first and
// progressively relaxes them, in a fixed priority order, until something
// turns up. The grid and model facets are never relaxed: an ancillary field
// from the wrong grid is physically invalid.

// Locates the ancillary dataset carrying the given variable (e.g.
// "areacella") for the given primary dataset, and resolves it to file
// records. The search is restricted to the project's fixed-frequency tables.
// Each relaxation step is recorded in the session log. Exhausting the
// relaxation sequence yields an empty result and no error: missing
// ancillary data degrades the acquisition, it never fails it.
func (c *Catalog) ResolveAncillary(ctx context.Context, dataset Dataset,
	variable string, query indices.Query) ([]FileRecord, error) {
	query = query.WithDefaults()
	project, err := indices.ProjectFor(query.Project())
	if err != nil {
		return nil, err
	}

	// start from the primary's facets, pinned to the fixed-frequency tables
	facets := make(map[string][]string)
	facets["project"] = query.Facets["project"]
	facets[project.VariableFacet] = []string{variable}
	facets[project.FixedTableFacet] = project.FixedTableValues
	for _, facet := range []string{
		project.ModelFacet, project.GridFacet, project.VariantFacet,
		project.ExperimentFacet, project.ActivityFacet,
	} {
		if facet == "" {
			continue
		}
		if values := dataset.Facets[facet]; len(values) > 0 {
			facets[facet] = values
		}
	}

	c.session.Log("relax", "searching for ancillary '%s' of %s", variable, dataset.Key)
	relaxation := append([]string(nil), project.RelaxationFacets...)
	for {
		found, err := c.searchAncillary(ctx, indices.Query{Facets: facets})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			best := closestMatch(found, dataset)
			return c.ResolveFiles(ctx, []Dataset{best}, indices.Query{Facets: facets})
		}

		// drop the next still-constrained facet in the relaxation order
		dropped := ""
		for len(relaxation) > 0 {
			facet := relaxation[0]
			relaxation = relaxation[1:]
			if _, constrained := facets[facet]; constrained {
				delete(facets, facet)
				dropped = facet
				break
			}
		}
		if dropped == "" {
			break
		}
		c.session.Log("relax", "no match; relaxing facet '%s'", dropped)
	}

	c.session.Warn("ancillary '%s' for %s not found after exhausting relaxation",
		variable, dataset.Key)
	return nil, nil
}

// issues one step of the ancillary search, treating an empty result as an
// empty slice rather than an error
func (c *Catalog) searchAncillary(ctx context.Context, query indices.Query) ([]Dataset, error) {
	found, err := c.ancillarySearch(ctx, query)
	if err != nil {
		var noResults *NoResultsError
		if errors.As(err, &noResults) {
			return nil, nil
		}
		return nil, err
	}
	return found, nil
}

// A federated search that does not disturb the catalog's current result
// set: ancillary lookups are internal, not caller-issued queries.
func (c *Catalog) ancillarySearch(ctx context.Context, query indices.Query) ([]Dataset, error) {
	c.mutex.Lock()
	saved := c.datasets
	c.mutex.Unlock()

	found, err := c.Search(ctx, query)

	c.mutex.Lock()
	c.datasets = saved
	c.mutex.Unlock()
	return found, err
}

// Picks the ancillary dataset whose facets agree most with the primary's:
// under relaxation, several variants/experiments may match, and the closest
// one wins.
func closestMatch(candidates []Dataset, primary Dataset) Dataset {
	best := candidates[0]
	bestScore := -1
	for _, candidate := range candidates {
		score := 0
		for facet, values := range candidate.Facets {
			for _, value := range values {
				if contains(primary.Facets[facet], value) {
					score++
				}
			}
		}
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}
