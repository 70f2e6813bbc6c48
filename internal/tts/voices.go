package tts

import (
	"strings"
	"sync"
)

// languageFamilies groups languages whose voices are acceptable stand-ins
// for one another
var languageFamilies = map[string][]string{
	"germanic":          {"en", "de", "nl", "af", "lb", "fy", "yi"},
	"north-germanic":    {"sv", "da", "no", "nb", "nn", "is", "fo"},
	"romance":           {"es", "pt", "fr", "it", "ca", "gl", "oc"},
	"eastern-romance":   {"ro", "mo"},
	"east-slavic":       {"ru", "uk", "be"},
	"west-slavic":       {"pl", "cs", "sk"},
	"south-slavic":      {"sr", "hr", "bs", "sl", "mk", "bg"},
	"baltic":            {"lt", "lv"},
	"finnic":            {"fi", "et"},
	"ugric":             {"hu"},
	"sami":              {"se"},
	"celtic":            {"ga", "cy", "gd", "br", "kw"},
	"hellenic":          {"el"},
	"albanian":          {"sq"},
	"armenian":          {"hy"},
	"kartvelian":        {"ka"},
	"basque":            {"eu"},
	"semitic":           {"ar", "he", "mt"},
	"ethiosemitic":      {"am", "ti"},
	"iranian":           {"fa", "ps", "ku", "tg"},
	"indo-aryan":        {"hi", "ur", "bn", "pa", "gu", "mr", "ne", "si", "as", "or"},
	"dravidian":         {"ta", "te", "kn", "ml"},
	"sinitic":           {"zh", "yue", "cmn", "wuu"},
	"japonic":           {"ja"},
	"koreanic":          {"ko"},
	"tai":               {"th", "lo"},
	"austroasiatic":     {"vi", "km"},
	"tibeto-burman":     {"my", "bo"},
	"malayo-polynesian": {"id", "ms", "jv", "su", "tl", "fil", "ceb"},
	"polynesian":        {"mi", "haw", "sm", "to"},
	"malagasy":          {"mg"},
	"turkic":            {"tr", "az", "kk", "uz", "ky", "tk", "tt"},
	"mongolic":          {"mn"},
	"bantu":             {"sw", "zu", "xh", "rw", "sn"},
	"cushitic":          {"so", "om"},
	"chadic":            {"ha"},
	"volta-niger":       {"yo", "ig"},
	"creole":            {"ht"},
	"constructed":       {"eo"},
	"latin":             {"la"},
}

// languageScripts maps languages to the writing system their text uses
var languageScripts = map[string]string{
	"en": "Latn", "de": "Latn", "nl": "Latn", "af": "Latn", "lb": "Latn", "fy": "Latn",
	"sv": "Latn", "da": "Latn", "no": "Latn", "nb": "Latn", "nn": "Latn", "is": "Latn", "fo": "Latn",
	"es": "Latn", "pt": "Latn", "fr": "Latn", "it": "Latn", "ca": "Latn", "gl": "Latn", "oc": "Latn",
	"ro": "Latn", "pl": "Latn", "cs": "Latn", "sk": "Latn", "hr": "Latn", "bs": "Latn", "sl": "Latn",
	"lt": "Latn", "lv": "Latn", "fi": "Latn", "et": "Latn", "hu": "Latn", "se": "Latn",
	"ga": "Latn", "cy": "Latn", "gd": "Latn", "br": "Latn", "sq": "Latn", "eu": "Latn", "mt": "Latn",
	"tr": "Latn", "az": "Latn", "uz": "Latn", "tk": "Latn",
	"id": "Latn", "ms": "Latn", "jv": "Latn", "su": "Latn", "tl": "Latn", "fil": "Latn", "ceb": "Latn",
	"mi": "Latn", "haw": "Latn", "sm": "Latn", "to": "Latn", "mg": "Latn",
	"sw": "Latn", "zu": "Latn", "xh": "Latn", "rw": "Latn", "sn": "Latn", "so": "Latn", "om": "Latn",
	"ha": "Latn", "yo": "Latn", "ig": "Latn", "ht": "Latn", "eo": "Latn", "la": "Latn", "vi": "Latn",
	"ru": "Cyrl", "uk": "Cyrl", "be": "Cyrl", "bg": "Cyrl", "sr": "Cyrl", "mk": "Cyrl",
	"kk": "Cyrl", "ky": "Cyrl", "tt": "Cyrl", "tg": "Cyrl", "mn": "Cyrl",
	"el": "Grek",
	"hy": "Armn",
	"ka": "Geor",
	"ar": "Arab", "fa": "Arab", "ur": "Arab", "ps": "Arab", "ku": "Arab",
	"he": "Hebr", "yi": "Hebr",
	"am": "Ethi", "ti": "Ethi",
	"hi": "Deva", "mr": "Deva", "ne": "Deva",
	"bn": "Beng", "as": "Beng",
	"pa": "Guru",
	"gu": "Gujr",
	"or": "Orya",
	"si": "Sinh",
	"ta": "Taml",
	"te": "Telu",
	"kn": "Knda",
	"ml": "Mlym",
	"th": "Thai",
	"lo": "Laoo",
	"km": "Khmr",
	"my": "Mymr",
	"bo": "Tibt",
	"zh": "Hani", "yue": "Hani", "cmn": "Hani", "wuu": "Hani",
	"ja": "Jpan",
	"ko": "Kore",
}

var familyOf = buildFamilyIndex()

func buildFamilyIndex() map[string]string {
	index := make(map[string]string)
	for family, langs := range languageFamilies {
		for _, lang := range langs {
			index[lang] = family
		}
	}
	return index
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}

func baseLanguage(tag string) string {
	tag = normalizeTag(tag)
	if i := strings.Index(tag, "-"); i >= 0 {
		return tag[:i]
	}
	return tag
}

// Family returns the language family of a tag, or "" when unknown
func Family(tag string) string {
	return familyOf[baseLanguage(tag)]
}

// Script returns the writing script of a tag, or "" when unknown
func Script(tag string) string {
	return languageScripts[baseLanguage(tag)]
}

// SelectVoice picks the best voice for lang: an exact tag match, then a
// voice for the same base language, then one from the same language
// family, then one writing the same script, then the first voice. The
// script step only applies when the script of lang is known. ok is false
// only when voices is empty.
func SelectVoice(lang string, voices []Voice) (voice Voice, ok bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}

	target := normalizeTag(lang)
	base := baseLanguage(lang)

	for _, v := range voices {
		if normalizeTag(v.Lang) == target {
			return v, true
		}
	}

	if base != "" {
		for _, v := range voices {
			if baseLanguage(v.Lang) == base {
				return v, true
			}
		}
	}

	if family := familyOf[base]; family != "" {
		for _, v := range voices {
			if familyOf[baseLanguage(v.Lang)] == family {
				return v, true
			}
		}
	}

	if script := languageScripts[base]; script != "" {
		for _, v := range voices {
			if languageScripts[baseLanguage(v.Lang)] == script {
				return v, true
			}
		}
	}

	return voices[0], true
}

type voiceChoice struct {
	name string
	lang string
}

// VoicePreferences keeps a manually chosen voice per panel. A choice holds
// until the panel's language changes.
type VoicePreferences struct {
	mu      sync.Mutex
	choices map[string]voiceChoice
}

// NewVoicePreferences creates an empty preference set
func NewVoicePreferences() *VoicePreferences {
	return &VoicePreferences{choices: make(map[string]voiceChoice)}
}

// Set records a manual voice choice for panel while it speaks lang
func (p *VoicePreferences) Set(panel, voiceName, lang string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if voiceName == "" {
		delete(p.choices, panel)
		return
	}
	p.choices[panel] = voiceChoice{name: voiceName, lang: normalizeTag(lang)}
}

// Get returns the manual choice for panel, if any
func (p *VoicePreferences) Get(panel string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	choice, ok := p.choices[panel]
	return choice.name, ok
}

// LanguageChanged drops the choice for panel when its language differs
// from lang
func (p *VoicePreferences) LanguageChanged(panel, lang string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if choice, ok := p.choices[panel]; ok && choice.lang != normalizeTag(lang) {
		delete(p.choices, panel)
	}
}

// Resolve returns the manual choice for panel when it is still valid for
// lang and offered by voices, and the automatic selection otherwise
func (p *VoicePreferences) Resolve(panel, lang string, voices []Voice) (Voice, bool) {
	p.mu.Lock()
	choice, ok := p.choices[panel]
	p.mu.Unlock()

	if ok && choice.lang == normalizeTag(lang) {
		for _, v := range voices {
			if v.Name == choice.name {
				return v, true
			}
		}
	}
	return SelectVoice(lang, voices)
}
