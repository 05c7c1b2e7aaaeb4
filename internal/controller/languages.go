package controller

// Language is one selectable conversation language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// Languages the backend workflow supports end to end.
var languages = []Language{
	{Code: "en", Name: "English", Flag: "🇺🇸"},
	{Code: "es", Name: "Español", Flag: "🇪🇸"},
	{Code: "fr", Name: "Français", Flag: "🇫🇷"},
}

func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

func IsSupportedLanguage(code string) bool {
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}
