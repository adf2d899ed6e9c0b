package vault

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// splitDocument separates the YAML metadata block at the top of content from the body.
func splitDocument(content string) (block string, body string) {
	first, rest, ok := strings.Cut(content, "\n")
	if !ok || strings.TrimRight(first, "\r") != delimiter {
		return "", content
	}
	var meta strings.Builder
	for {
		line, remaining, found := strings.Cut(rest, "\n")
		if strings.TrimRight(line, "\r") == delimiter {
			return meta.String(), remaining
		}
		if !found {
			// unterminated block: treat the whole content as body
			return "", content
		}
		meta.WriteString(line)
		meta.WriteByte('\n')
		rest = remaining
	}
}

func parseMetadata(block string) (Metadata, error) {
	meta := Metadata{}
	if strings.TrimSpace(block) == "" {
		return meta, nil
	}
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return nil, fmt.Errorf("invalid metadata block: %w", err)
	}
	return meta, nil
}

// composeDocument renders metadata and body back into document content. Empty metadata is omitted.
func composeDocument(meta Metadata, body string) (string, error) {
	if len(meta) == 0 {
		return body, nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(meta)); err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return delimiter + "\n" + buf.String() + delimiter + "\n" + body, nil
}

// ensureTrailingNewline keeps bodies written by the sync in the usual text file shape.
func ensureTrailingNewline(body string) string {
	if body == "" || strings.HasSuffix(body, "\n") {
		return body
	}
	return body + "\n"
}
