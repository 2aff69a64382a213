package docs

import _ "embed"

// OpenAPISpec is the planner API description served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
