package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/svscope/svscope/internal/models"
)

// ParsedCredit is one attribution extracted from a page.
type ParsedCredit struct {
	Role         string
	Name         string
	Organization string
}

// ParsedAssetFile is one downloadable variant of an asset.
type ParsedAssetFile struct {
	Variant   string
	URL       string
	MimeType  string
	SizeBytes int64
	Filename  string
	Width     int
	Height    int
}

// ParsedAsset is one media group on a page.
type ParsedAsset struct {
	Title        string
	Description  string
	MediaType    string
	Files        []ParsedAssetFile
	ThumbnailURL string
}

// ParsedRelatedPage is a reference to another SVS page.
type ParsedRelatedPage struct {
	SvsID        int
	Title        string
	RelationType string
}

// ParsedPage is everything extracted from one SVS page.
type ParsedPage struct {
	SvsID         int
	Title         string
	CanonicalURL  string
	Description   string
	Summary       string
	PublishedDate *time.Time
	ThumbnailURL  string
	Credits       []ParsedCredit
	Keywords      []string
	Missions      []string
	Targets       []string
	Domains       []string
	Assets        []ParsedAsset
	RelatedPages  []ParsedRelatedPage
	DownloadNotes string
	Content       *models.RichContent
}

var (
	sizePattern      = regexp.MustCompile(`(?i)\[(\d+(?:\.\d+)?)\s*(KB|MB|GB)\]`)
	dimensionPattern = regexp.MustCompile(`\((\d+)\s*[x×]\s*(\d+)\)`)
	svsIDPattern     = regexp.MustCompile(`/(\d+)/?$`)
	internalLinkExpr = regexp.MustCompile(`^/(\d+)/?$`)
	whitespaceExpr   = regexp.MustCompile(`\s+`)
	relatedIDExpr    = regexp.MustCompile(`(?i)related|see.*also`)
	roleNameExpr     = regexp.MustCompile(`^([^:]+):\s*(.+)$`)
	trailingOrgExpr  = regexp.MustCompile(`\(([^)]+)\)$`)
	creditLineExpr   = regexp.MustCompile(`(?i)^Credits?:\s*(.+)$`)
)

// dateLayouts are tried in order when parsing publication dates.
var dateLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"01/02/2006",
}

// Parser extracts structured content from SVS page HTML. It is pure:
// no network or database access.
type Parser struct {
	baseURL   string
	sanitizer *bluemonday.Policy
}

func NewParser(baseURL string) *Parser {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	policy := bluemonday.NewPolicy()
	policy.AllowElements("p", "br", "a", "strong", "b", "em", "i", "ul", "ol", "li", "span")
	policy.AllowAttrs("href", "title", "data-internal").OnElements("a")
	policy.AllowURLSchemes("http", "https")
	policy.AllowRelativeURLs(true)

	return &Parser{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sanitizer: policy,
	}
}

// Parse extracts all content from one SVS page.
func (p *Parser) Parse(html string, svsID int) (*ParsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for page %d: %w", svsID, err)
	}

	page := &ParsedPage{
		SvsID:        svsID,
		Title:        p.extractTitle(doc),
		CanonicalURL: fmt.Sprintf("%s/%d", p.baseURL, svsID),
	}

	page.Description = p.extractDescription(doc)
	page.Summary = p.extractSummary(page.Description)
	if page.Summary == "" {
		page.Summary = page.Description
	}
	page.Content = p.extractRichContent(doc)
	page.PublishedDate = p.extractDate(doc)
	page.ThumbnailURL = p.extractThumbnail(doc)
	page.Credits = p.extractCredits(doc)

	page.Keywords = p.extractArticleTags(doc)
	page.Missions = matchVocabulary(page.Keywords, knownMissions)
	page.Targets = matchVocabulary(page.Keywords, knownTargets)
	page.Domains = matchVocabulary(page.Keywords, knownDomains)

	page.Assets = p.extractAssets(doc)
	page.RelatedPages = p.extractRelatedPages(doc)
	page.DownloadNotes = p.extractDownloadNotes(doc)

	return page, nil
}

func (p *Parser) extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("h1#title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1.title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		if idx := strings.Index(t, "NASA SVS |"); idx >= 0 {
			t = strings.TrimSpace(t[idx+len("NASA SVS |"):])
		}
		if idx := strings.Index(t, " - NASA"); idx >= 0 {
			t = t[:idx]
		}
		return t
	}
	return "Untitled"
}

func (p *Parser) mediaGroups(doc *goquery.Document) *goquery.Selection {
	return doc.Find("section[id^='media_group_']")
}

// extractDescription joins the story paragraphs from all media groups,
// deduplicated on their first 100 characters.
func (p *Parser) extractDescription(doc *goquery.Document) string {
	var descriptions []string

	p.mediaGroups(doc).Each(func(_ int, group *goquery.Selection) {
		group.Find("div.card-body").First().Find("p").Each(func(_ int, para *goquery.Selection) {
			if para.ParentsFiltered(".dropdown-menu").Length() > 0 {
				return
			}
			text := cleanText(para.Text())
			if len(text) > 20 {
				descriptions = append(descriptions, text)
			}
		})

		group.Find("div[class*='px-0'], div[class*='description']").First().Find("p").Each(func(_ int, para *goquery.Selection) {
			text := cleanText(para.Text())
			if len(text) > 20 {
				descriptions = append(descriptions, text)
			}
		})
	})

	if len(descriptions) > 0 {
		seen := map[string]bool{}
		var unique []string
		for _, d := range descriptions {
			key := strings.ToLower(strings.TrimSpace(d))
			if len(key) > 100 {
				key = key[:100]
			}
			if !seen[key] {
				seen[key] = true
				unique = append(unique, d)
			}
		}
		return strings.Join(unique, " ")
	}

	// Fall back to JSON-LD, skipping the corrupted meta description
	// that has the file list concatenated with "||".
	if ld := p.jsonLD(doc); ld != nil {
		if desc, ok := ld["description"].(string); ok && !strings.Contains(desc, "||") {
			return desc
		}
	}
	return ""
}

// extractSummary takes the first sentence of the description, capped at
// 500 characters.
func (p *Parser) extractSummary(description string) string {
	if description == "" {
		return ""
	}
	summary := description
	if idx := strings.Index(description, ". "); idx >= 0 {
		summary = description[:idx+1]
	} else if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return summary
}

// extractRichContent preserves paragraph HTML, sanitized to a safe tag
// set, alongside the plain text.
func (p *Parser) extractRichContent(doc *goquery.Document) *models.RichContent {
	var sections []models.ContentSection

	p.mediaGroups(doc).Each(func(_ int, group *goquery.Selection) {
		var paragraphs []models.Paragraph

		group.Find("div.card-body").First().Find("p").Each(func(_ int, para *goquery.Selection) {
			if para.ParentsFiltered(".dropdown-menu").Length() > 0 {
				return
			}
			p.transformInternalLinks(para)
			text := cleanText(para.Text())
			if len(text) > 20 {
				paragraphs = append(paragraphs, models.Paragraph{
					HTML: p.sanitizeHTML(para),
					Text: text,
				})
			}
		})

		group.Find("div[class*='px-0'], div[class*='description']").First().Find("p").Each(func(_ int, para *goquery.Selection) {
			if para.ParentsFiltered(".dropdown-menu").Length() > 0 {
				return
			}
			p.transformInternalLinks(para)
			text := cleanText(para.Text())
			if len(text) <= 20 {
				return
			}
			for _, existing := range paragraphs {
				if existing.Text == text {
					return
				}
			}
			paragraphs = append(paragraphs, models.Paragraph{
				HTML: p.sanitizeHTML(para),
				Text: text,
			})
		})

		if len(paragraphs) > 0 {
			sections = append(sections, models.ContentSection{Type: "description", Paragraphs: paragraphs})
		}
	})

	if len(sections) == 0 {
		return nil
	}
	return &models.RichContent{FormatVersion: 1, Sections: sections}
}

func (p *Parser) sanitizeHTML(sel *goquery.Selection) string {
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(p.sanitizer.Sanitize(raw))
}

// transformInternalLinks rewrites bare page links like /14685/ to the
// app route /svs/14685 and marks them with data-internal="true".
func (p *Parser) transformInternalLinks(sel *goquery.Selection) {
	sel.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if m := internalLinkExpr.FindStringSubmatch(href); m != nil {
			link.SetAttr("href", "/svs/"+m[1])
			link.SetAttr("data-internal", "true")
		}
	})
}

func (p *Parser) extractThumbnail(doc *goquery.Document) string {
	if content, ok := doc.Find("meta[property='og:image']").First().Attr("content"); ok && content != "" {
		return p.absoluteURL(content)
	}
	if poster, ok := doc.Find("video").First().Attr("poster"); ok && poster != "" {
		return p.absoluteURL(poster)
	}
	if ld := p.jsonLD(doc); ld != nil {
		if thumb, ok := ld["thumbnailUrl"].(string); ok && thumb != "" {
			return p.absoluteURL(thumb)
		}
	}
	return ""
}

func (p *Parser) extractDate(doc *goquery.Document) *time.Time {
	if content, ok := doc.Find("meta[property='article:published_time']").First().Attr("content"); ok && content != "" {
		return parseDate(content)
	}
	timeElem := doc.Find("time").First()
	if timeElem.Length() > 0 {
		dateStr, ok := timeElem.Attr("datetime")
		if !ok || dateStr == "" {
			dateStr = strings.TrimSpace(timeElem.Text())
		}
		return parseDate(dateStr)
	}
	return nil
}

func parseDate(dateStr string) *time.Time {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	// Last resort: drop any trailing timezone noise.
	if len(dateStr) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", dateStr[:19]); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func (p *Parser) extractArticleTags(doc *goquery.Document) []string {
	var keywords []string
	seen := map[string]bool{}

	doc.Find("meta[property='article:tag']").Each(func(_ int, meta *goquery.Selection) {
		if content, ok := meta.Attr("content"); ok {
			kw := strings.TrimSpace(content)
			if kw != "" && !seen[kw] {
				seen[kw] = true
				keywords = append(keywords, kw)
			}
		}
	})

	if content, ok := doc.Find("meta[name='keywords']").First().Attr("content"); ok {
		for _, kw := range strings.Split(content, ",") {
			kw = strings.TrimSpace(kw)
			if kw != "" && !seen[kw] {
				seen[kw] = true
				keywords = append(keywords, kw)
			}
		}
	}
	return keywords
}

// matchVocabulary returns the tags that contain any vocabulary term,
// compared case-insensitively.
func matchVocabulary(tags []string, vocabulary []string) []string {
	var matched []string
	for _, tag := range tags {
		tagUpper := strings.ToUpper(tag)
		for _, term := range vocabulary {
			if strings.Contains(tagUpper, strings.ToUpper(term)) {
				matched = append(matched, tag)
				break
			}
		}
	}
	return matched
}

var knownMissions = []string{
	"MAVEN", "Hubble", "Webb", "JWST", "Cassini", "Curiosity", "Perseverance",
	"Mars Reconnaissance Orbiter", "MRO", "LRO", "TESS", "Kepler", "Spitzer",
	"Chandra", "Fermi", "SDO", "SOHO", "ACE", "STEREO", "Parker Solar Probe",
	"New Horizons", "Juno", "Europa Clipper", "OSIRIS-REx", "GOES", "Landsat",
	"Terra", "Aqua", "NOAA", "GPM", "ICESat", "GRACE",
}

var knownTargets = []string{
	"Earth", "Moon", "Sun", "Mars", "Jupiter", "Saturn", "Venus", "Mercury",
	"Uranus", "Neptune", "Pluto", "Europa", "Titan", "Enceladus", "Io",
	"Ganymede", "Callisto", "Ceres", "Vesta", "Bennu", "Ryugu", "Comet",
}

var knownDomains = []string{
	"Earth Science", "Heliophysics", "Astrophysics", "Planetary Science",
	"Climate", "Weather", "Atmosphere", "Ocean", "Land", "Ice", "Solar",
	"Space Weather", "Galaxies", "Black Holes", "Stars", "Exoplanets",
	"Nebulae", "Universe", "Cosmology",
}

func (p *Parser) extractAssets(doc *goquery.Document) []ParsedAsset {
	var assets []ParsedAsset
	p.mediaGroups(doc).Each(func(_ int, group *goquery.Selection) {
		if asset := p.parseMediaGroup(group); asset != nil {
			assets = append(assets, *asset)
		}
	})
	return assets
}

func (p *Parser) parseMediaGroup(section *goquery.Selection) *ParsedAsset {
	mediaType := "image"
	video := section.Find("video").First()
	if video.Length() > 0 {
		mediaType = "video"
	}

	thumbnailURL := ""
	if poster, ok := video.Attr("poster"); ok && poster != "" {
		thumbnailURL = p.absoluteURL(poster)
	} else if src, ok := section.Find("img").First().Attr("src"); ok && src != "" {
		thumbnailURL = p.absoluteURL(src)
	}

	description := ""
	cardBody := section.Find("div.card-body").First()
	if cardBody.Length() > 0 {
		var parts []string
		cardBody.ChildrenFiltered("p").Each(func(_ int, para *goquery.Selection) {
			if text := cleanText(para.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		description = strings.Join(parts, " ")
	}

	var files []ParsedAssetFile
	section.Find("ul.dropdown-menu").First().Find("a.dropdown-item").Each(func(_ int, link *goquery.Selection) {
		if f := p.parseDownloadLink(link); f != nil {
			files = append(files, *f)
		}
	})

	// No download menu, fall back to direct video sources.
	if len(files) == 0 && video.Length() > 0 {
		video.Find("source").Each(func(_ int, source *goquery.Selection) {
			src, ok := source.Attr("src")
			if !ok || src == "" {
				return
			}
			fileURL := p.absoluteURL(src)
			mime, _ := source.Attr("type")
			files = append(files, ParsedAssetFile{
				Variant:  detectVariant(fileURL),
				URL:      fileURL,
				MimeType: mime,
				Filename: filenameFromURL(fileURL),
			})
		})
	}

	if len(files) == 0 && thumbnailURL == "" {
		return nil
	}

	return &ParsedAsset{
		Description:  description,
		MediaType:    mediaType,
		Files:        files,
		ThumbnailURL: thumbnailURL,
	}
}

// parseDownloadLink extracts a file from dropdown link text like
// "file.mov (1920x1080) [6.5 GB]".
func (p *Parser) parseDownloadLink(link *goquery.Selection) *ParsedAssetFile {
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return nil
	}

	fileURL := p.absoluteURL(href)
	text := strings.TrimSpace(link.Text())

	var sizeBytes int64
	if m := sizePattern.FindStringSubmatch(text); m != nil {
		size, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			switch strings.ToUpper(m[2]) {
			case "KB":
				sizeBytes = int64(size * 1024)
			case "MB":
				sizeBytes = int64(size * 1024 * 1024)
			case "GB":
				sizeBytes = int64(size * 1024 * 1024 * 1024)
			default:
				sizeBytes = int64(size)
			}
		}
	}

	var width, height int
	if m := dimensionPattern.FindStringSubmatch(text); m != nil {
		width, _ = strconv.Atoi(m[1])
		height, _ = strconv.Atoi(m[2])
	}

	return &ParsedAssetFile{
		Variant:   detectVariant(fileURL),
		URL:       fileURL,
		MimeType:  detectMimeType(fileURL),
		SizeBytes: sizeBytes,
		Filename:  filenameFromURL(fileURL),
		Width:     width,
		Height:    height,
	}
}

func detectVariant(fileURL string) string {
	lower := strings.ToLower(fileURL)
	switch {
	case strings.Contains(lower, "4k"), strings.Contains(lower, "uhd"):
		return "4k"
	case strings.Contains(lower, "1080"), strings.Contains(lower, "hd"):
		return "1080p"
	case strings.Contains(lower, "720"):
		return "720p"
	case strings.Contains(lower, "prores"):
		return "prores"
	case strings.Contains(lower, "h264"):
		return "h264"
	case strings.Contains(lower, "appletv"):
		return "appletv"
	case strings.Contains(lower, "webm"):
		return "webm"
	case strings.Contains(lower, "ipod"), strings.Contains(lower, "podcast"):
		return "mobile"
	case strings.Contains(lower, "thumbnail"), strings.Contains(lower, "thm"):
		return "thumbnail"
	case strings.Contains(lower, "print"):
		return "print"
	case strings.Contains(lower, "searchweb"):
		return "web"
	case strings.Contains(lower, ".srt"), strings.Contains(lower, ".vtt"):
		return "caption"
	case strings.Contains(lower, "transcript"):
		return "transcript"
	}
	return "original"
}

var mimeByExtension = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".avi":  "video/x-msvideo",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".gif":  "image/gif",
	".vtt":  "text/vtt",
	".srt":  "text/plain",
}

func detectMimeType(fileURL string) string {
	lower := strings.ToLower(fileURL)
	for ext, mime := range mimeByExtension {
		if strings.HasSuffix(lower, ext) {
			return mime
		}
	}
	return ""
}

func filenameFromURL(fileURL string) string {
	if idx := strings.LastIndex(fileURL, "/"); idx >= 0 {
		return fileURL[idx+1:]
	}
	return ""
}

func (p *Parser) extractRelatedPages(doc *goquery.Document) []ParsedRelatedPage {
	var related []ParsedRelatedPage

	var relatedSection *goquery.Selection
	doc.Find("section").EachWithBreak(func(_ int, section *goquery.Selection) bool {
		id, ok := section.Attr("id")
		if ok && relatedIDExpr.MatchString(id) {
			relatedSection = section
			return false
		}
		return true
	})
	if relatedSection == nil {
		doc.Find("h2, h3, h4").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
			text := strings.ToLower(heading.Text())
			if strings.Contains(text, "related") || strings.Contains(text, "see also") {
				if parent := heading.ParentsFiltered("section").First(); parent.Length() > 0 {
					relatedSection = parent
				} else if next := heading.NextAllFiltered("ul").First(); next.Length() > 0 {
					relatedSection = next
				}
				return false
			}
			return true
		})
	}

	if relatedSection != nil {
		relatedSection.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			m := svsIDPattern.FindStringSubmatch(href)
			if m == nil {
				return
			}
			id, _ := strconv.Atoi(m[1])
			title := strings.TrimSpace(link.Text())
			if title != "" {
				related = append(related, ParsedRelatedPage{SvsID: id, Title: title, RelationType: "related"})
			}
		})
	}

	// Prev/next navigation links become sequence relations.
	doc.Find("nav.row").First().Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		m := svsIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id, _ := strconv.Atoi(m[1])
		title := strings.TrimSpace(link.Text())
		if title != "" && !strings.HasPrefix(title, "bi-") {
			related = append(related, ParsedRelatedPage{SvsID: id, Title: title, RelationType: "sequence"})
		}
	})

	return related
}

func (p *Parser) extractDownloadNotes(doc *goquery.Document) string {
	notes := doc.Find("div[class*='download-notes'], div[class*='usage']").First()
	if notes.Length() > 0 {
		return cleanText(notes.Text())
	}
	return ""
}

// jsonLD decodes the first JSON-LD script block, if any.
func (p *Parser) jsonLD(doc *goquery.Document) map[string]any {
	script := doc.Find("script[type='application/ld+json']").First()
	if script.Length() == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
		return nil
	}
	return data
}

func (p *Parser) absoluteURL(ref string) string {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func cleanText(text string) string {
	return strings.TrimSpace(whitespaceExpr.ReplaceAllString(text, " "))
}
