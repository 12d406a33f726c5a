package address

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ErrUnknownCharset is returned by LookupCharset for charsets that have no
// decoder.
var ErrUnknownCharset = errors.New("unknown charset")

// encodedWord matches a single RFC 2047 encoded-word: =?charset?B|Q?text?=
var encodedWord = regexp.MustCompile(`=\?[^?\s]+\?[bBqQ]\?[^?\s]*\?=`)

var errMalformedWord = errors.New("encoded-word does not decode to text")

var wordDecoder = &mime.WordDecoder{CharsetReader: CharsetReader}

// DecodeWords decodes every RFC 2047 encoded-word in s and returns the
// result. Text outside encoded-words is copied verbatim. Whitespace between
// two adjacent encoded-words is dropped. A word with an unknown charset or a
// malformed payload, including one that does not decode to valid UTF-8, is
// left as it is while the remaining words are decoded.
func DecodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	locs := encodedWord.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	prevDecoded := false
	for _, loc := range locs {
		gap := s[last:loc[0]]
		token := s[loc[0]:loc[1]]
		last = loc[1]

		word, err := wordDecoder.Decode(token)
		if err == nil && !utf8.ValidString(word) {
			// Bytes that are not text in the declared charset.
			err = errMalformedWord
		}
		if err != nil {
			b.WriteString(gap)
			b.WriteString(token)
			prevDecoded = false
			continue
		}
		if !prevDecoded || !isLinearSpace(gap) {
			b.WriteString(gap)
		}
		b.WriteString(word)
		prevDecoded = true
	}
	b.WriteString(s[last:])
	return b.String()
}

func isLinearSpace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}

// LookupCharset resolves a MIME charset name. A nil encoding with a nil error
// means the input is already UTF-8 compatible.
func LookupCharset(charset string) (encoding.Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	// RFC 2231 language suffix, e.g. "utf-8*en".
	if i := strings.IndexByte(name, '*'); i >= 0 {
		name = name[:i]
	}

	switch name {
	case "":
		return nil, fmt.Errorf("%w: empty name", ErrUnknownCharset)
	case "utf-8", "utf8", "us-ascii", "ascii":
		return nil, nil
	case "gb2312":
		// Mail clients label GBK text as gb2312 more often than not.
		return simplifiedchinese.GBK, nil
	}

	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		enc, err = ianaindex.IANA.Encoding(name)
	}
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	return enc, nil
}

// CharsetReader converts input in charset to UTF-8. It fits
// mime.WordDecoder.CharsetReader, so other decoders resolve charsets the same
// way DecodeWords does.
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
