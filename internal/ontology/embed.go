package ontology

import "embed"

//go:embed data/ontology.yaml
var dataFS embed.FS
