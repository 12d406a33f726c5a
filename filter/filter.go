package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/dhcgn/mbox-contacts/address"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader  []string
	IncludeBody    []string
	ExcludeHeader  []string
	ExcludeBody    []string
	IncludeAddress []string
	ExcludeAddress []string
}

// Filter holds compiled regex patterns for filtering messages and participants.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*pattern
	includeBody    []*pattern
	excludeHeader  []*pattern
	excludeBody    []*pattern
	includeAddress []*pattern
	excludeAddress []*pattern
	needHeaderText bool
	needBodyText   bool
}

type pattern struct {
	kind string
	re   *regexp.Regexp
	hits atomic.Int64
}

// PatternHits reports how often a pattern decided a match.
type PatternHits struct {
	Kind    string
	Pattern string
	Hits    int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns("include-header", opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns("include-body", opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns("exclude-header", opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns("exclude-body", opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}
	includeAddress, err := compilePatterns("include-address", opts.IncludeAddress)
	if err != nil {
		return nil, fmt.Errorf("compile include-address pattern: %w", err)
	}
	excludeAddress, err := compilePatterns("exclude-address", opts.ExcludeAddress)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-address pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	if len(includeAddress) > 0 && len(excludeAddress) > 0 {
		return nil, fmt.Errorf("include-address and exclude-address filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		includeAddress: includeAddress,
		excludeAddress: excludeAddress,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if f.includeMode {
		matched := matchAny(f.includeHeader, headerText) || matchAny(f.includeBody, bodyText)
		return matched
	}

	if f.excludeMode {
		if matchAny(f.excludeHeader, headerText) || matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

// AllowsAddress returns true if the participant passes the address patterns.
// Patterns are matched against the email and against the decoded name.
func (f *Filter) AllowsAddress(a address.Address) bool {
	if len(f.includeAddress) == 0 && len(f.excludeAddress) == 0 {
		return true
	}

	email := a.Email()
	name := a.DecodedName()
	if len(f.includeAddress) > 0 {
		return matchAny(f.includeAddress, email) || matchAny(f.includeAddress, name)
	}
	return !matchAny(f.excludeAddress, email) && !matchAny(f.excludeAddress, name)
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

// Stats lists every active pattern with its hit count, in option order.
func (f *Filter) Stats() []PatternHits {
	var out []PatternHits
	for _, group := range [][]*pattern{
		f.includeHeader, f.includeBody,
		f.excludeHeader, f.excludeBody,
		f.includeAddress, f.excludeAddress,
	} {
		for _, p := range group {
			out = append(out, PatternHits{Kind: p.kind, Pattern: p.re.String(), Hits: int(p.hits.Load())})
		}
	}
	return out
}

func compilePatterns(kind string, patterns []string) ([]*pattern, error) {
	compiled := make([]*pattern, 0, len(patterns))
	for _, expr := range patterns {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		compiled = append(compiled, &pattern{kind: kind, re: re})
	}
	return compiled, nil
}

// matchAny credits the first matching pattern with a hit.
func matchAny(patterns []*pattern, text string) bool {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			p.hits.Add(1)
			return true
		}
	}
	return false
}
