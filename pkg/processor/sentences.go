package processor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type splitLevel int

const (
	levelParagraph splitLevel = iota
	levelSentence
	levelWord
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// units splits text at one boundary level. Rejoining the units with single
// spaces reproduces text up to whitespace.
func units(text string, level splitLevel) []string {
	var raw []string
	switch level {
	case levelParagraph:
		raw = paragraphBreak.Split(text, -1)
	case levelSentence:
		raw = splitSentences(text)
	default:
		return strings.Fields(text)
	}
	out := raw[:0]
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"inc": true, "corp": true, "co": true, "ltd": true, "llc": true,
	"no": true, "nos": true, "vol": true, "approx": true, "fig": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "sept": true, "oct": true,
	"nov": true, "dec": true,
}

// splitSentences breaks prose after ".", "!" or "?" when the next word
// starts a sentence. Abbreviations ("Inc.", "No.", "U.S.") and decimals
// never end a sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		end := i + 1
		for end < len(text) && strings.IndexByte(`"')]`, text[end]) >= 0 {
			end++
		}
		next := end
		for next < len(text) && isSpace(text[next]) {
			next++
		}
		if next == end || next >= len(text) {
			continue
		}
		if !startsSentence(text[next:]) {
			continue
		}
		if c == '.' && isAbbreviation(text[start:i]) {
			continue
		}
		sentences = append(sentences, strings.TrimSpace(text[start:end]))
		start = next
		i = next - 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func startsSentence(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r) || unicode.IsDigit(r) || strings.ContainsRune(`"'(“$`, r)
}

// isAbbreviation reports whether the word ending right before a period is
// an abbreviation or an initial.
func isAbbreviation(before string) bool {
	word := before
	if i := strings.LastIndexFunc(before, unicode.IsSpace); i >= 0 {
		word = before[i+1:]
	}
	word = strings.TrimLeft(word, `"'(`)
	if word == "" {
		return false
	}
	if strings.Contains(word, ".") {
		return true // "U.S", "e.g"
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsUpper(r)
	}
	return abbreviations[strings.ToLower(word)]
}
