package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svscope/svscope/internal/models"
)

const fixturePage = `<!DOCTYPE html>
<html>
<head>
<title>NASA SVS | Moon Phases 2024 - NASA Scientific Visualization Studio</title>
<meta property="article:published_time" content="2023-11-06T14:30:00-05:00">
<meta property="og:image" content="/vis/a000000/a005100/a005187/frames/thumb.jpg">
<meta property="article:tag" content="Moon">
<meta property="article:tag" content="LRO">
<meta property="article:tag" content="Planetary Science">
<meta name="keywords" content="Moon, lunar phases, craters">
<script type="application/ld+json">
{"@type": "VideoObject", "description": "fallback only", "thumbnailUrl": "/ld-thumb.jpg",
 "author": {"name": "Ernie Wright", "affiliation": {"name": "USRA"}}}
</script>
</head>
<body>
<header>
<h1 id="title">Moon Phases 2024</h1>
<ul class="hstack list-unstyled">
<li><span class="fw-bold">Visualizer:</span></li>
<li><a href="/search?people=Ernie%20Wright">Ernie Wright</a></li>
</ul>
</header>
<time datetime="2024-01-01">January 1, 2024</time>
<section id="media_group_100">
  <video poster="/vis/a005187/poster.jpg"></video>
  <div class="card-body">
    <p>Dial-A-Moon shows the phase and libration of the Moon throughout 2024, at hourly intervals, rendered from imagery gathered by the Lunar Reconnaissance Orbiter.</p>
    <p>See also page <a href="/4874/">the previous edition</a> for 2021 data and comparisons with earlier years of observation.</p>
    <ul class="dropdown-menu">
      <li><a class="dropdown-item" href="/vis/a005187/moon.2024.mov">moon.2024.mov (1920x1080) [650.0 MB]</a></li>
      <li><a class="dropdown-item" href="/vis/a005187/moon.2024_4k.mp4">moon.2024_4k.mp4 (3840x2160) [2.1 GB]</a></li>
      <li><a class="dropdown-item" href="/vis/a005187/moon.captions.srt">moon.captions.srt [12 KB]</a></li>
    </ul>
  </div>
</section>
<section id="media_group_101">
  <img src="/vis/a005187/still.png">
  <div class="card-body">
    <p>Dial-A-Moon shows the phase and libration of the Moon throughout 2024, at hourly intervals, rendered from imagery gathered by the Lunar Reconnaissance Orbiter.</p>
    <p>Credit: Ernie Wright (USRA); David Ladd (Producer)</p>
  </div>
</section>
<section id="section_related">
  <h3>Related pages</h3>
  <a href="/5048/">Tour of the Moon</a>
</section>
<nav class="row">
  <a href="/5186/">Moon Phases 2023</a>
</nav>
</body>
</html>`

func TestParse_Fixture(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(fixturePage, 5187)
	require.NoError(t, err)

	assert.Equal(t, 5187, page.SvsID)
	assert.Equal(t, "Moon Phases 2024", page.Title)
	assert.Equal(t, "https://svs.gsfc.nasa.gov/5187", page.CanonicalURL)

	// Description deduplicates the repeated paragraph across media groups.
	assert.Contains(t, page.Description, "Dial-A-Moon shows the phase and libration")
	assert.Equal(t, 1, strings.Count(page.Description, "Dial-A-Moon"))
	assert.Contains(t, page.Description, "previous edition")

	// Summary is the first sentence.
	assert.Equal(t, "Dial-A-Moon shows the phase and libration of the Moon throughout 2024, at hourly intervals, rendered from imagery gathered by the Lunar Reconnaissance Orbiter.", page.Summary)

	// Meta published_time wins over the time element.
	require.NotNil(t, page.PublishedDate)
	assert.Equal(t, time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC), *page.PublishedDate)

	assert.Equal(t, "https://svs.gsfc.nasa.gov/vis/a000000/a005100/a005187/frames/thumb.jpg", page.ThumbnailURL)

	assert.ElementsMatch(t, []string{"Moon", "LRO", "Planetary Science", "lunar phases", "craters"}, page.Keywords)
	assert.ElementsMatch(t, []string{"LRO"}, page.Missions)
	assert.ElementsMatch(t, []string{"Moon"}, page.Targets)
	assert.ElementsMatch(t, []string{"Planetary Science"}, page.Domains)
}

func TestParse_Fixture_Assets(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(fixturePage, 5187)
	require.NoError(t, err)

	require.Len(t, page.Assets, 2)

	video := page.Assets[0]
	assert.Equal(t, "video", video.MediaType)
	assert.Equal(t, "https://svs.gsfc.nasa.gov/vis/a005187/poster.jpg", video.ThumbnailURL)
	require.Len(t, video.Files, 3)

	mov := video.Files[0]
	assert.Equal(t, "https://svs.gsfc.nasa.gov/vis/a005187/moon.2024.mov", mov.URL)
	assert.Equal(t, int64(681574400), mov.SizeBytes)
	assert.Equal(t, 1920, mov.Width)
	assert.Equal(t, 1080, mov.Height)
	assert.Equal(t, "video/quicktime", mov.MimeType)
	assert.Equal(t, "moon.2024.mov", mov.Filename)

	fourK := video.Files[1]
	assert.Equal(t, "4k", fourK.Variant)
	assert.Equal(t, int64(2254857830), fourK.SizeBytes)
	assert.Equal(t, 3840, fourK.Width)
	assert.Equal(t, 2160, fourK.Height)

	captions := video.Files[2]
	assert.Equal(t, "caption", captions.Variant)
	assert.Equal(t, int64(12*1024), captions.SizeBytes)
	assert.Equal(t, "text/plain", captions.MimeType)

	image := page.Assets[1]
	assert.Equal(t, "image", image.MediaType)
	assert.Equal(t, "https://svs.gsfc.nasa.gov/vis/a005187/still.png", image.ThumbnailURL)
}

func TestParse_Fixture_RelatedPages(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(fixturePage, 5187)
	require.NoError(t, err)

	require.Len(t, page.RelatedPages, 2)
	assert.Equal(t, ParsedRelatedPage{SvsID: 5048, Title: "Tour of the Moon", RelationType: "related"}, page.RelatedPages[0])
	assert.Equal(t, ParsedRelatedPage{SvsID: 5186, Title: "Moon Phases 2023", RelationType: "sequence"}, page.RelatedPages[1])
}

func TestParse_Fixture_RichContent(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(fixturePage, 5187)
	require.NoError(t, err)

	require.NotNil(t, page.Content)
	assert.Equal(t, 1, page.Content.FormatVersion)
	require.NotEmpty(t, page.Content.Sections)
	assert.Equal(t, "description", page.Content.Sections[0].Type)

	// The internal /4874/ link is rewritten to an app route.
	var linked *models.Paragraph
	for i := range page.Content.Sections[0].Paragraphs {
		para := &page.Content.Sections[0].Paragraphs[i]
		if strings.Contains(para.HTML, "/svs/4874") {
			linked = para
			break
		}
	}
	require.NotNil(t, linked, "internal link paragraph missing from rich content")
	assert.Contains(t, linked.HTML, `href="/svs/4874"`)
	assert.Contains(t, linked.HTML, `data-internal="true"`)
}

func TestExtractTitle_Fallbacks(t *testing.T) {
	p := NewParser("")

	page, err := p.Parse(`<html><head><title>NASA SVS | Eclipse Map - NASA Scientific Visualization Studio</title></head><body></body></html>`, 1)
	require.NoError(t, err)
	assert.Equal(t, "Eclipse Map", page.Title)

	page, err = p.Parse(`<html><body><h1 class="title">Classy Title</h1></body></html>`, 2)
	require.NoError(t, err)
	assert.Equal(t, "Classy Title", page.Title)

	page, err = p.Parse(`<html><body></body></html>`, 3)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", page.Title)
}

func TestExtractDescription_JSONLDFallback(t *testing.T) {
	p := NewParser("")

	html := `<html><head><script type="application/ld+json">{"description": "A clean story about the Sun."}</script></head><body></body></html>`
	page, err := p.Parse(html, 4)
	require.NoError(t, err)
	assert.Equal(t, "A clean story about the Sun.", page.Description)

	// Corrupted meta descriptions carrying the file list are rejected.
	corrupted := `<html><head><script type="application/ld+json">{"description": "story || file1.mov || file2.mov"}</script></head><body></body></html>`
	page, err = p.Parse(corrupted, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Description)
}

func TestExtractDate_TimeElementFallback(t *testing.T) {
	p := NewParser("")

	page, err := p.Parse(`<html><body><time datetime="2024-03-15">March 15, 2024</time></body></html>`, 6)
	require.NoError(t, err)
	require.NotNil(t, page.PublishedDate)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *page.PublishedDate)

	page, err = p.Parse(`<html><body><time>April 8, 2024</time></body></html>`, 7)
	require.NoError(t, err)
	require.NotNil(t, page.PublishedDate)
	assert.Equal(t, time.Date(2024, 4, 8, 0, 0, 0, 0, time.UTC), *page.PublishedDate)
}

func TestParseDate_Formats(t *testing.T) {
	cases := map[string]time.Time{
		"2023-11-06T14:30:00-05:00": time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
		"2023-11-06T14:30:00":       time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
		"2023-11-06":                time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
		"November 6, 2023":          time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
		"Nov 6, 2023":               time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
		"11/06/2023":                time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC),
	}
	for input, want := range cases {
		got := parseDate(input)
		require.NotNil(t, got, "failed to parse %q", input)
		assert.Equal(t, want, *got, "wrong date for %q", input)
	}

	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("not a date"))
}

func TestExtractThumbnail_VideoPosterFallback(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(`<html><body><video poster="/poster.jpg"></video></body></html>`, 8)
	require.NoError(t, err)
	assert.Equal(t, "https://svs.gsfc.nasa.gov/poster.jpg", page.ThumbnailURL)
}

func TestDetectVariant(t *testing.T) {
	cases := map[string]string{
		"https://example.com/moon_4k.mp4":         "4k",
		"https://example.com/moon_1080p.mp4":      "1080p",
		"https://example.com/moon_720.mp4":        "720p",
		"https://example.com/moon_prores.mov":     "prores",
		"https://example.com/moon.webm":           "webm",
		"https://example.com/moon_ipod.m4v":       "mobile",
		"https://example.com/moon_print.png":      "print",
		"https://example.com/moon_searchweb.png":  "web",
		"https://example.com/moon.captions.srt":   "caption",
		"https://example.com/moon_transcript.txt": "transcript",
		"https://example.com/moon_frame.tif":      "original",
	}
	for input, want := range cases {
		assert.Equal(t, want, detectVariant(input), "variant for %s", input)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", cleanText("  a\n\tb   c  "))
	assert.Equal(t, "", cleanText("   "))
}

