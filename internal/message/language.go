package message

import (
	"strings"

	"golang.org/x/text/language"
)

// Language is a supported notification language.
type Language int

const (
	English Language = iota
	Hindi
	Marathi
	Gujarati
	Bengali
	Punjabi
	Tamil
	Telugu
	Kannada
	Malayalam
)

var codes = [...]string{
	English:   "en",
	Hindi:     "hi",
	Marathi:   "mr",
	Gujarati:  "gu",
	Bengali:   "bn",
	Punjabi:   "pa",
	Tamil:     "ta",
	Telugu:    "te",
	Kannada:   "kn",
	Malayalam: "ml",
}

// Languages returns every supported language, English first.
func Languages() []Language {
	out := make([]Language, len(codes))
	for i := range codes {
		out[i] = Language(i)
	}
	return out
}

// Code returns the ISO 639-1 code of l. Out of range values report "en".
func (l Language) Code() string {
	if l < 0 || int(l) >= len(codes) {
		return codes[English]
	}
	return codes[l]
}

func (l Language) String() string {
	return l.Code()
}

// ParseLanguage maps a stored language preference onto a supported Language.
//
// Region and script subtags are ignored ("hi-IN" is Hindi). Empty, malformed
// and unsupported codes map to English.
func ParseLanguage(code string) Language {
	code = strings.TrimSpace(code)
	if code == "" {
		return English
	}

	base := strings.ToLower(code)
	if tag, err := language.Parse(code); err == nil {
		if b, _ := tag.Base(); b.String() != "und" {
			base = b.String()
		}
	}

	for i, c := range codes {
		if c == base {
			return Language(i)
		}
	}

	return English
}
