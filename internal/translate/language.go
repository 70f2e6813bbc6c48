package translate

import "strings"

var languageNames = map[string]string{
	"ar": "Arabic",
	"bg": "Bulgarian",
	"bn": "Bengali",
	"cs": "Czech",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"hu": "Hungarian",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"ms": "Malay",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ro": "Romanian",
	"ru": "Russian",
	"sv": "Swedish",
	"sw": "Swahili",
	"ta": "Tamil",
	"th": "Thai",
	"tl": "Filipino",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"ur": "Urdu",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// BaseLanguage returns the primary subtag of a BCP 47 tag, lowercased
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// LanguageName returns the English name of a language tag for prompts
func LanguageName(tag string) string {
	base := BaseLanguage(tag)
	switch strings.ToLower(strings.ReplaceAll(tag, "_", "-")) {
	case "zh-tw", "zh-hant":
		return "Traditional Chinese"
	case "zh-cn", "zh-hans":
		return "Simplified Chinese"
	}
	if name, ok := languageNames[base]; ok {
		return name
	}
	return tag
}

// myMemoryLanguage keeps the regional Chinese variants MyMemory
// distinguishes and reduces everything else to the base language.
func myMemoryLanguage(tag string) string {
	switch strings.ToLower(strings.ReplaceAll(tag, "_", "-")) {
	case "zh-cn", "zh-hans":
		return "zh-CN"
	case "zh-tw", "zh-hant", "zh-hk":
		return "zh-TW"
	}
	return BaseLanguage(tag)
}
