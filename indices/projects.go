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
	"fmt"
	"strings"
)

// Across projects, facets serving the same function have different names
// (CMIP6 calls the variant "member_id", CMIP5 calls it "ensemble"). A
// Project records the facet vocabulary of one project so the rest of the
// engine can reason about variables, models, variants and grids uniformly.
type Project struct {
	// facets composing the master id, in order (version/node excluded)
	MasterIdFacets []string
	// facets that may be dropped when searching for ancillary data, in
	// relaxation order; the grid and model facets are never relaxed
	RelaxationFacets []string
	// the facet names serving each role
	VariableFacet string
	ModelFacet    string
	VariantFacet  string
	GridFacet     string // "" if the project has no grid facet
	// activity/experiment facet names (used by ancillary relaxation)
	ActivityFacet   string
	ExperimentFacet string
	// table values identifying fixed-frequency (time-invariant) datasets
	FixedTableFacet  string
	FixedTableValues []string
}

var allProjects = map[string]Project{
	"cmip6": {
		MasterIdFacets: []string{
			"mip_era", "activity_drs", "institution_id", "source_id",
			"experiment_id", "member_id", "table_id", "variable_id", "grid_label",
		},
		RelaxationFacets: []string{"member_id", "experiment_id", "activity_drs", "institution_id"},
		VariableFacet:    "variable_id",
		ModelFacet:       "source_id",
		VariantFacet:     "member_id",
		GridFacet:        "grid_label",
		ActivityFacet:    "activity_drs",
		ExperimentFacet:  "experiment_id",
		FixedTableFacet:  "table_id",
		FixedTableValues: []string{"fx", "Ofx"},
	},
	"cmip5": {
		MasterIdFacets: []string{
			"institute", "model", "experiment", "time_frequency", "realm",
			"cmor_table", "ensemble", "variable",
		},
		RelaxationFacets: []string{"ensemble", "experiment", "institute"},
		VariableFacet:    "variable",
		ModelFacet:       "model",
		VariantFacet:     "ensemble",
		GridFacet:        "",
		ActivityFacet:    "",
		ExperimentFacet:  "experiment",
		FixedTableFacet:  "time_frequency",
		FixedTableValues: []string{"fx"},
	},
}

// returns the facet vocabulary for the named project (case-insensitive), or
// an error if the project is not supported
func ProjectFor(name string) (Project, error) {
	project, found := allProjects[strings.ToLower(name)]
	if !found {
		return Project{}, fmt.Errorf("Project '%s' is not supported", name)
	}
	return project, nil
}

// returns the facets an adapter retains in dataset records for the project
// constrained by the query (the master id facets plus the project itself)
func SearchFacets(query Query) []string {
	facets := []string{"project"}
	if project, err := ProjectFor(query.Project()); err == nil {
		facets = append(facets, project.MasterIdFacets...)
	} else {
		// unknown project: retain whatever was constrained
		for facet := range query.Facets {
			facets = append(facets, facet)
		}
	}
	return facets
}
