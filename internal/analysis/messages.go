package analysis

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	msgNoFaces  = "no faces detected in the video"
	msgNoMatch  = "%d faces detected but none matched the reference (best similarity = %.1f%%)"
	msgMatches  = "%d matches found"
	msgRunError = "analysis failed"
)

// SupportedLanguages lists the languages summary messages are available in.
// The first entry is the fallback.
var SupportedLanguages = []language.Tag{language.English, language.Japanese}

var (
	messages        = newCatalog()
	languageMatcher = language.NewMatcher(SupportedLanguages)
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			panic("invalid message catalog entry " + key + ": " + err.Error())
		}
	}

	for _, key := range []string{msgNoFaces, msgNoMatch, msgMatches, msgRunError} {
		set(language.English, key, key)
	}
	set(language.Japanese, msgNoFaces, "動画内に顔が検出されませんでした。")
	set(language.Japanese, msgNoMatch, "%d個の顔が検出されましたが、参照画像と一致しませんでした（最高一致率: %.1f%%）。")
	set(language.Japanese, msgMatches, "%d件の一致が見つかりました。")
	set(language.Japanese, msgRunError, "分析に失敗しました")

	return b
}

// MatchLanguage picks the best supported language for preferences such as an
// Accept-Language header or a bare tag like "ja".
func MatchLanguage(prefs ...string) language.Tag {
	var tags []language.Tag
	for _, p := range prefs {
		if p == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return SupportedLanguages[0]
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return SupportedLanguages[idx]
}

func printer(tag language.Tag) *message.Printer {
	if tag == language.Und {
		tag = SupportedLanguages[0]
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}

// SummaryMessage returns the diagnostic message for a finished run.
func SummaryMessage(tag language.Tag, s Summary) string {
	p := printer(tag)
	switch {
	case s.TotalDetections == 0 && s.TotalFacesFound == 0:
		return p.Sprintf(msgNoFaces)
	case s.TotalDetections == 0:
		// Summary keeps the raw score; the text never shows a negative percentage.
		return p.Sprintf(msgNoMatch, s.TotalFacesFound, max(s.MaxSimilarity, 0)*100)
	default:
		return p.Sprintf(msgMatches, s.TotalDetections)
	}
}

// FailureMessage returns the localized generic failure text.
func FailureMessage(tag language.Tag) string {
	return printer(tag).Sprintf(msgRunError)
}
