// Package message renders notifications into the text delivered to recipients.
package message

import (
	"strings"

	"github.com/aliskhannn/health-notifier/internal/model"
)

type template struct {
	prefix string
	footer string
}

// templates is indexed by Language, so every constant has an entry.
var templates = [...]template{
	English: {
		prefix: "🏥 Nivrit AI Health Alert",
		footer: "Stay healthy! 💚\n- Nivrit AI Healthcare Team",
	},
	Hindi: {
		prefix: "🏥 निवृत्त एआई स्वास्थ्य सतर्कता",
		footer: "स्वस्थ रहें! 💚\n- निवृत्त एआई हेल्थकेयर टीम",
	},
	Marathi: {
		prefix: "🏥 निवृत्त एआई आरोग्य सतर्कता",
		footer: "निरोगी राहा! 💚\n- निवृत्त एआई हेल्थकेयर टीम",
	},
	Gujarati: {
		prefix: "🏥 નિવૃત્ત એઆઈ આરોગ્ય સતર્કતા",
		footer: "સ્વસ્થ રહો! 💚\n- નિવૃત્ત એઆઈ હેલ્થકેર ટીમ",
	},
	Bengali: {
		prefix: "🏥 নিবৃত্ত এআই স্বাস্থ্য সতর্কতা",
		footer: "সুস্থ থাকুন! 💚\n- নিবৃত্ত এআই হেলথকেয়ার টিম",
	},
	Punjabi: {
		prefix: "🏥 ਨਿਵ੍ਰਿਤ ਏਆਈ ਸਿਹਤ ਚੇਤਾਵਨੀ",
		footer: "ਸਿਹਤਮੰਦ ਰਹੋ! 💚\n- ਨਿਵ੍ਰਿਤ ਏਆਈ ਹੈਲਥਕੇਅਰ ਟੀਮ",
	},
	Tamil: {
		prefix: "🏥 நிவிர்த்த ஏஐ சுகாதார எச்சரிக்கை",
		footer: "வாழ்க்கையில் ஆரோக்கியமாக இருங்கள்! 💚\n- நிவிர்த்த ஏஐ ஹெல்த்கேர் குழு",
	},
	Telugu: {
		prefix: "🏥 నివృత్త్ ఏఐ ఆరోగ్య హెచ్చరిక",
		footer: "ఆరోగ్యంగా ఉండండి! 💚\n- నివృత్త్ ఏఐ హెల్త్‌కేర్ బృందం",
	},
	Kannada: {
		prefix: "🏥 ನಿವೃತ್ತ್ ಏಐ ಆರೋಗ್ಯ ಎಚ್ಚರಿಕೆ",
		footer: "ಆರೋಗ್ಯವಾಗಿ ಇರಿ! 💚\n- ನಿವೃತ್ತ್ ಏಐ ಹೆಲ್ತ್‌ಕೇರ್ ತಂಡ",
	},
	Malayalam: {
		prefix: "🏥 നിവൃത്ത് ഏഐ ആരോഗ്യ എച്ചരിക",
		footer: "ആരോഗ്യമായി ജീവിക്കുക! 💚\n- നിവൃത്ത് ഏഐ ഹെൽത്ത്‌കെയർ ടീം",
	},
}

const titleMarker = "📋 "

func lookup(l Language) template {
	if l < 0 || int(l) >= len(templates) {
		return templates[English]
	}
	return templates[l]
}

// Prefix returns the greeting line for l.
func Prefix(l Language) string { return lookup(l).prefix }

// Footer returns the sign-off for l.
func Footer(l Language) string { return lookup(l).footer }

// Format composes the delivered text: prefix, title, body and footer
// separated by blank lines. Title and body are copied verbatim.
func Format(title, body string, lang Language) string {
	t := lookup(lang)

	var b strings.Builder
	b.Grow(len(t.prefix) + len(title) + len(body) + len(t.footer) + 16)

	b.WriteString(t.prefix)
	b.WriteString("\n\n")
	b.WriteString(titleMarker)
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(t.footer)

	return b.String()
}

// FormatNotification renders n in its recipient's preferred language.
func FormatNotification(n model.Notification) string {
	lang := English
	if n.Recipient != nil {
		lang = ParseLanguage(n.Recipient.LanguagePreference)
	}
	return Format(n.Title, n.Message, lang)
}
