package catalog

import (
	"embed"
	"fmt"
	"html"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Number marks a substitution that is formatted with locale digit grouping.
type Number int64

// Raw marks a substitution that is inserted without HTML escaping.
type Raw string

// Catalog resolves prompt keys into localized HTML message text.
type Catalog struct {
	fallback models.Language
	texts    map[models.Language]map[string]string
	matcher  language.Matcher
	tags     []language.Tag

	printersMu sync.Mutex
	printers   map[models.Language]*message.Printer
}

// New loads the embedded locale files. Every language must define every key
// of the fallback language.
func New(fallback models.Language) (*Catalog, error) {
	if !fallback.Valid() {
		fallback = models.FallbackLanguage
	}
	c := &Catalog{
		fallback: fallback,
		texts:    make(map[models.Language]map[string]string),
		printers: make(map[models.Language]*message.Printer),
	}
	for _, lang := range models.Languages {
		raw, err := localeFS.ReadFile(path.Join("locales", string(lang)+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", lang, err)
		}
		entries := map[string]string{}
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", lang, err)
		}
		c.texts[lang] = entries
		c.tags = append(c.tags, language.MustParse(string(lang)))
	}
	if missing := c.missingKeys(); len(missing) > 0 {
		return nil, fmt.Errorf("incomplete locales: %s", strings.Join(missing, ", "))
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Fallback returns the language used before the user selects one.
func (c *Catalog) Fallback() models.Language {
	return c.fallback
}

// Lookup renders key in lang, falling back to the fallback language and then
// to the key itself. Placeholders look like {name}.
func (c *Catalog) Lookup(key string, lang models.Language, vars map[string]interface{}) string {
	if !lang.Valid() {
		lang = c.fallback
	}
	text, ok := c.texts[lang][key]
	if !ok {
		text, ok = c.texts[c.fallback][key]
	}
	if !ok {
		return key
	}
	if len(vars) == 0 {
		return text
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", c.format(lang, value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Has reports whether key exists in the fallback language.
func (c *Catalog) Has(key string) bool {
	_, ok := c.texts[c.fallback][key]
	return ok
}

// Match picks the supported language closest to a client language code such
// as "ru-RU". Unknown or empty hints yield the fallback.
func (c *Catalog) Match(hint string) models.Language {
	if strings.TrimSpace(hint) == "" {
		return c.fallback
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return c.fallback
	}
	_, idx, confidence := c.matcher.Match(tag)
	if confidence == language.No {
		return c.fallback
	}
	return models.Languages[idx]
}

// IsCancel reports whether text is the cancel command or the cancel button
// label of any language.
func (c *Catalog) IsCancel(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.EqualFold(trimmed, "/cancel") {
		return true
	}
	for _, lang := range models.Languages {
		if trimmed == c.texts[lang]["cancel"] {
			return true
		}
	}
	return false
}

func (c *Catalog) format(lang models.Language, value interface{}) string {
	switch v := value.(type) {
	case Raw:
		return string(v)
	case Number:
		return c.printer(lang).Sprintf("%d", int64(v))
	case string:
		return html.EscapeString(v)
	case fmt.Stringer:
		return html.EscapeString(v.String())
	default:
		return html.EscapeString(fmt.Sprint(v))
	}
}

func (c *Catalog) printer(lang models.Language) *message.Printer {
	c.printersMu.Lock()
	defer c.printersMu.Unlock()
	if p, ok := c.printers[lang]; ok {
		return p
	}
	p := message.NewPrinter(language.MustParse(string(lang)))
	c.printers[lang] = p
	return p
}

func (c *Catalog) missingKeys() []string {
	var missing []string
	for _, lang := range models.Languages {
		for key := range c.texts[c.fallback] {
			if _, ok := c.texts[lang][key]; !ok {
				missing = append(missing, string(lang)+"."+key)
			}
		}
	}
	sort.Strings(missing)
	return missing
}
