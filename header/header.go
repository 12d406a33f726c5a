// Package header splits raw address-list header values into addresses.
//
// Unlike net/mail, display names are kept exactly as received, so RFC 2047
// encoded-words survive until address.Address.DecodedName is called.
package header

import (
	"strings"

	"github.com/dhcgn/mbox-contacts/address"
)

// AddressFields are the headers that carry participants, in the order they are
// read from a message.
var AddressFields = []string{"From", "Sender", "Reply-To", "To", "Cc", "Bcc"}

// ParseList parses an address-list header value such as
//
//	"=?UTF-8?Q?Jos=C3=A9?=" <jose@example.com>, team: a@example.com, b@example.com;
//
// Groups are flattened and entries without an address are dropped. Parsing
// never fails; malformed entries are parsed as far as they go.
func ParseList(value string) []address.Address {
	var out []address.Address
	for _, entry := range splitList(value) {
		if a, ok := parseEntry(entry); ok {
			out = append(out, a)
		}
	}
	return out
}

// splitList splits on ',' and ';' outside quoted strings, comments and angle
// brackets. A top-level ':' ends a group display name, which is discarded.
func splitList(s string) []string {
	var (
		entries []string
		cur     strings.Builder
		quoted  bool
		escaped bool
		depth   int
		angle   bool
	)
	flush := func() {
		if e := strings.TrimSpace(cur.String()); e != "" {
			entries = append(entries, e)
		}
		cur.Reset()
	}

	// Every delimiter is ASCII, so bytes are walked directly and 8-bit text
	// passes through untouched.
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && (quoted || depth > 0):
			escaped = true
		case quoted:
			if c == '"' {
				quoted = false
			}
		case depth > 0:
			switch c {
			case '(':
				depth++
			case ')':
				depth--
			}
		case c == '"':
			quoted = true
		case c == '(':
			depth++
		case angle:
			if c == '>' {
				angle = false
			}
		case c == '<':
			angle = true
		case c == ',' || c == ';':
			flush()
			continue
		case c == ':':
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return entries
}

// parseEntry splits a single mailbox into its display name and address-spec.
func parseEntry(s string) (address.Address, bool) {
	phrase, comment := stripComments(s)

	var name, email string
	if lt := indexUnquoted(phrase, '<'); lt >= 0 {
		name = phrase[:lt]
		rest := phrase[lt+1:]
		if gt := strings.LastIndexByte(rest, '>'); gt >= 0 {
			rest = rest[:gt]
		}
		// Obsolete source route: <@relay1,@relay2:user@host>
		if colon := strings.LastIndexByte(rest, ':'); colon >= 0 && strings.HasPrefix(strings.TrimSpace(rest), "@") {
			rest = rest[colon+1:]
		}
		email = rest
	} else {
		email = phrase
		name = comment
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return address.Address{}, false
	}
	return address.New(unquote(strings.TrimSpace(name)), email), true
}

// stripComments removes parenthesised comments outside quoted strings. The
// text of the first comment is returned for old-style "addr (Name)" entries.
func stripComments(s string) (string, string) {
	var (
		out, comment strings.Builder
		quoted       bool
		escaped      bool
		depth        int
		seen         bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && (quoted || depth > 0):
			escaped = true
			if depth > 0 {
				continue
			}
		case depth > 0:
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					seen = true
					out.WriteByte(' ')
					continue
				}
			}
		case quoted:
			if c == '"' {
				quoted = false
			}
		case c == '"':
			quoted = true
		case c == '(':
			depth++
			continue
		}
		if depth > 0 {
			if !seen {
				comment.WriteByte(c)
			}
			continue
		}
		out.WriteByte(c)
	}
	return out.String(), strings.TrimSpace(comment.String())
}

func indexUnquoted(s string, c byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case c:
			if !quoted {
				return i
			}
		}
	}
	return -1
}

// unquote removes quoted-string delimiters and resolves quoted-pairs. Text
// outside quotes, encoded-words included, is kept as it is.
func unquote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && quoted && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == '"':
			quoted = !quoted
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
