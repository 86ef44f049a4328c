// Package lexicon counts occurrences of flagged words in chat messages.
package lexicon

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrMalformedContent is returned for text that is not valid UTF-8.
var ErrMalformedContent = errors.New("lexicon: malformed content")

// Lexicon is an immutable set of normalized words.
type Lexicon struct {
	words map[string]struct{}
}

// New builds a lexicon. Entries are normalized like message text; entries that
// normalize to nothing are dropped.
func New(words ...string) *Lexicon {
	l := &Lexicon{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		for _, tok := range strings.Fields(Normalize(w)) {
			l.words[tok] = struct{}{}
		}
	}
	return l
}

// Load reads a lexicon file with one word per line. Blank lines and lines
// starting with '#' are skipped.
func Load(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: opening %s: %w", path, err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: reading %s: %w", path, err)
	}
	return New(words...), nil
}

// Len returns the number of distinct words.
func (l *Lexicon) Len() int { return len(l.words) }

// Contains reports whether the normalized token is in the lexicon.
func (l *Lexicon) Contains(token string) bool {
	_, ok := l.words[token]
	return ok
}

// Words returns the lexicon entries in sorted order.
func (l *Lexicon) Words() []string {
	out := make([]string, 0, len(l.words))
	for w := range l.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Occurrences maps a lexicon word to the number of times it appeared.
type Occurrences map[string]int

// Total returns the sum of all counts.
func (o Occurrences) Total() int {
	n := 0
	for _, c := range o {
		n += c
	}
	return n
}

// Words returns the matched words in sorted order.
func (o Occurrences) Words() []string {
	out := make([]string, 0, len(o))
	for w := range o {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Normalize lower-cases text and drops every rune that is neither a letter, a
// digit nor whitespace.
func Normalize(text string) string {
	lowered := cases.Lower(language.Und).String(text)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lowered)
}

// Classify counts every whitespace-separated token of the normalized text that
// is in the lexicon. It returns an empty map when nothing matches.
func Classify(text string, lex *Lexicon) (Occurrences, error) {
	if !utf8.ValidString(text) {
		return Occurrences{}, ErrMalformedContent
	}
	out := Occurrences{}
	if lex == nil || lex.Len() == 0 {
		return out, nil
	}
	for _, tok := range strings.Fields(Normalize(text)) {
		if lex.Contains(tok) {
			out[tok]++
		}
	}
	return out, nil
}
