package parser

// Extraction is everything the crawl records about one HTML page.
type Extraction struct {
	URL       string
	Content   Content
	SEO       SEO
	Technical Technical
	Links     []Link
	Images    []Image
}

// Content holds the visible text of a page.
type Content struct {
	Text         string // longer of FullPageText and the main-content text
	FullPageText string
	WordCount    int
	ReadingTime  int // minutes, at least 1
	Headings     []Heading
}

// Heading is one h1-h6 element. Headings are ordered by level, then by
// document order.
type Heading struct {
	Level int
	Text  string
}

// SEO holds the page's search metadata.
type SEO struct {
	Title             string
	TitleLength       int
	MetaDescription   string
	DescriptionLength int
	Keywords          string
	Canonical         string
	Robots            string
	OGTags            map[string]string
	TwitterTags       map[string]string
	Hreflang          map[string]string
	JSONLD            []map[string]any
}

// Technical holds structural page checks.
type Technical struct {
	H1Count          int
	H2Count          int
	H3Count          int
	ImageCount       int
	ImagesWithoutAlt int
	InternalLinks    int
	ExternalLinks    int
	PageSizeKB       float64
	HasViewport      bool
	HasLang          bool
}

// Link is an anchor resolved against the page URL.
type Link struct {
	URL      string
	Text     string
	Title    string
	Rel      string
	NoFollow bool
	Internal bool
}

// Image is an <img> with a src.
type Image struct {
	Src     string
	Alt     string
	Title   string
	Width   *int
	Height  *int
	HasAlt  bool
	Loading string
}

// H1 returns the first level-1 heading, or "".
func (e *Extraction) H1() string {
	for _, h := range e.Content.Headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return ""
}

// HeadingTexts returns the texts of every heading at level.
func (e *Extraction) HeadingTexts(level int) []string {
	var out []string
	for _, h := range e.Content.Headings {
		if h.Level == level {
			out = append(out, h.Text)
		}
	}
	return out
}

// FirstJSONLD returns the first JSON-LD object block, or nil.
func (e *Extraction) FirstJSONLD() map[string]any {
	if len(e.SEO.JSONLD) == 0 {
		return nil
	}
	return e.SEO.JSONLD[0]
}
