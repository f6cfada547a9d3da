/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package inference

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the JSON payload of a model reply. Prompts ask for a
// fenced ```json block, but replies also arrive as bare JSON, inside an
// unlabeled fence, or with prose around the fence; all of those are accepted.
func ExtractJSON(reply string) string {
	if _, rest, ok := strings.Cut(reply, "```json\n"); ok {
		if body, _, closed := strings.Cut(rest, "```"); closed {
			return strings.TrimSpace(body)
		}
	}

	// No well-formed labeled fence. Strip any wrapping fence markers and
	// whitespace and let the caller's unmarshal judge what remains.
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	return strings.TrimSpace(reply)
}

// Extract unmarshals the JSON payload of a model reply into T.
func Extract[T any](reply string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(ExtractJSON(reply)), &result); err != nil {
		return result, err
	}
	return result, nil
}
