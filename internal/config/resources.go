package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Resources is the catalogue of everything a full import covers.
//
//	ontologies = ["Disease", "Tissue"]
//
//	database "complexes" {
//	  resources = ["CORUM"]
//	}
type Resources struct {
	Ontologies []string   `hcl:"ontologies"`
	Databases  []Category `hcl:"database,block"`
}

// Category groups the database resources that feed one part of the graph.
type Category struct {
	Name      string   `hcl:"name,label"`
	Resources []string `hcl:"resources"`
}

// LoadResources decodes an HCL resource catalogue.
func LoadResources(path string) (*Resources, error) {
	var res Resources
	if err := hclsimple.DecodeFile(path, nil, &res); err != nil {
		return nil, fmt.Errorf("load resources %s: %w", path, err)
	}
	return &res, nil
}

// DefaultResources returns the built-in catalogue.
func DefaultResources() *Resources {
	return &Resources{
		Ontologies: []string{
			"Disease",
			"Tissue",
			"Biological_process",
			"Molecular_function",
			"Cellular_component",
			"Modification",
			"Clinical_variable",
			"Phenotype",
			"Experiment",
		},
		Databases: []Category{
			{Name: "modified_proteins", Resources: []string{"psp"}},
			{Name: "complexes", Resources: []string{"CORUM"}},
			{Name: "curated_ppi", Resources: []string{"IntAct"}},
			{Name: "compiled_ppi", Resources: []string{"STRING"}},
			{Name: "ppi_action", Resources: []string{"STRING"}},
			{Name: "diseases", Resources: []string{"DisGEnet"}},
			{Name: "pathology_expression", Resources: []string{"HPA"}},
			{Name: "curated_drugs", Resources: []string{"DGIdb", "CGI", "OncoKB"}},
			{Name: "compiled_drugs", Resources: []string{"STITCH"}},
			{Name: "drug_action", Resources: []string{"STITCH"}},
			{Name: "side_effects", Resources: []string{"SIDER"}},
			{Name: "clinical_variants", Resources: []string{"CGI", "OncoKB"}},
			{Name: "pathways", Resources: []string{"Reactome", "SMPDB"}},
			{Name: "metabolites", Resources: []string{"hmdb"}},
			{Name: "food", Resources: []string{"FooDB"}},
		},
	}
}

// DatabaseNames returns every database resource once, in catalogue order.
func (r *Resources) DatabaseNames() []string {
	var out []string
	for _, c := range r.Databases {
		for _, name := range c.Resources {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// Category returns the resources listed under name.
func (r *Resources) Category(name string) ([]string, bool) {
	for _, c := range r.Databases {
		if c.Name == name {
			return c.Resources, true
		}
	}
	return nil, false
}

// Validate rejects empty or path-like names and duplicate categories.
func (r *Resources) Validate() error {
	for _, o := range r.Ontologies {
		if err := checkName("ontology", o); err != nil {
			return err
		}
	}
	seen := map[string]bool{}
	for _, c := range r.Databases {
		if err := checkName("database category", c.Name); err != nil {
			return err
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate database category %q", c.Name)
		}
		seen[c.Name] = true
		for _, name := range c.Resources {
			if err := checkName("database", name); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty %s name", kind)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}
