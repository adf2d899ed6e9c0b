// Package link encodes and decodes the deep link embedded in event descriptions. The link names the
// document that represents an event, so it survives renames of either side and lets an event be matched
// to its document when no remote id is stored.
package link

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
)

const DefaultScheme = "obsidian"

// Token is a decoded embedded link.
type Token struct {
	Raw   string
	Vault string
	// File is the linked document identity: its name without the .md extension.
	File  string
	Date  string
	Title string
}

type Codec struct {
	scheme  string
	vault   string
	pattern *regexp.Regexp
}

func NewCodec(scheme, vault string) *Codec {
	if scheme == "" {
		scheme = DefaultScheme
	}
	pattern := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(scheme) +
		`://open\?vault=([^\r\n]+)&file=(\d{4}-\d{2}-\d{2})([^\r\n]*)\r?$`)
	return &Codec{scheme: scheme, vault: vault, pattern: pattern}
}

// Encode returns the canonical link for a document of this vault. Only documents whose name follows the
// event-name grammar produce a link that Decode recognises.
func (c *Codec) Encode(document string) string {
	name := strings.TrimSuffix(filepath.Base(document), ".md")
	return fmt.Sprintf("%s://open?vault=%s&file=%s", c.scheme, c.vault, name)
}

// Decode returns the first link found at the start of a line of text.
func (c *Codec) Decode(text string) (Token, bool) {
	m := c.pattern.FindStringSubmatch(text)
	if m == nil {
		return Token{}, false
	}
	title := strings.TrimSpace(m[3])
	if title == "" {
		title = event.Untitled
	}
	return Token{
		Raw:   strings.TrimSuffix(m[0], "\r"),
		Vault: m[1],
		File:  m[2] + m[3],
		Date:  m[2],
		Title: title,
	}, true
}

func (c *Codec) Contains(text string) bool {
	return c.pattern.MatchString(text)
}

// Normalize rewrites description so that it holds exactly one link, token. The first existing link is
// replaced in place and any further link lines are dropped. Without an existing link the token is
// prepended, separated from the original text by a blank line.
func (c *Codec) Normalize(description, token string) string {
	locs := c.pattern.FindAllStringIndex(description, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(description) == "" {
			return token
		}
		return token + "\n\n" + description
	}

	var b strings.Builder
	prev := 0
	for i, loc := range locs {
		b.WriteString(description[prev:loc[0]])
		end := loc[1]
		if i == 0 {
			b.WriteString(token)
		} else if end < len(description) && description[end] == '\n' {
			end++
		}
		prev = end
	}
	b.WriteString(description[prev:])
	return b.String()
}

// Strip removes every link line and the blank lines around the remaining text.
func (c *Codec) Strip(description string) string {
	locs := c.pattern.FindAllStringIndex(description, -1)
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(description[prev:loc[0]])
		end := loc[1]
		if end < len(description) && description[end] == '\n' {
			end++
		}
		prev = end
	}
	b.WriteString(description[prev:])
	return trimBlankLines(b.String())
}

// Compose builds the canonical description: the link line, a blank line and the free text.
func Compose(token, text string) string {
	text = trimBlankLines(text)
	if text == "" {
		return token
	}
	return token + "\n\n" + text
}

func trimBlankLines(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[:i]) != "" {
			break
		}
		s = s[i+1:]
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
