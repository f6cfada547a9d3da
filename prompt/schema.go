/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflector is tuned for response schemas embedded in prompts: expanded,
// dereferenced output that a model can read inline.
var reflector = jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	DoNotReference:             true,
}

// schemaJSON renders the JSON schema for T as indented JSON, for embedding
// in prompts that request structured responses.
func schemaJSON[T any]() (string, error) {
	var zero T
	s := reflector.Reflect(&zero)
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling response schema: %w", err)
	}
	return string(b), nil
}
