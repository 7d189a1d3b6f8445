package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCredits_Fixture(t *testing.T) {
	p := NewParser("")
	page, err := p.Parse(fixturePage, 5187)
	require.NoError(t, err)

	assert.ElementsMatch(t, []ParsedCredit{
		{Role: "Author", Name: "Ernie Wright", Organization: "USRA"},
		{Role: "Visualizer", Name: "Ernie Wright"},
		{Role: "Credit", Name: "Ernie Wright", Organization: "USRA"},
		{Role: "Producer", Name: "David Ladd"},
	}, page.Credits)
}

func TestExtractCredits_DedupSameRoleAndName(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"author": {"name": "Jane Doe"}}</script>
</head><body>
<header>
<ul class="hstack list-unstyled">
<li><span class="fw-bold">Author:</span></li>
<li><a href="/search?people=Jane%20Doe">Jane Doe</a></li>
<li><a href="/search?people=Jane%20Doe">Jane Doe</a></li>
</ul>
</header>
</body></html>`

	p := NewParser("")
	page, err := p.Parse(html, 1)
	require.NoError(t, err)

	// Same (role, name) from JSON-LD and the header list collapses to one.
	require.Len(t, page.Credits, 1)
	assert.Equal(t, "Author", page.Credits[0].Role)
	assert.Equal(t, "Jane Doe", page.Credits[0].Name)
}

func TestExtractCredits_CreditsSection(t *testing.T) {
	html := `<html><body>
<section id="section_credits">
<h4>Lead Visualizer:</h4>
<ul>
<li><a href="/search?people=Greg">Greg Shirah (NASA/GSFC)</a></li>
</ul>
<h4>Scientist</h4>
<p>Claire Parkinson (NASA/GSFC)</p>
</section>
</body></html>`

	p := NewParser("")
	page, err := p.Parse(html, 2)
	require.NoError(t, err)

	assert.ElementsMatch(t, []ParsedCredit{
		{Role: "Lead Visualizer", Name: "Greg Shirah", Organization: "NASA/GSFC"},
		{Role: "Scientist", Name: "Claire Parkinson", Organization: "NASA/GSFC"},
	}, page.Credits)
}

func TestExtractCredits_HeaderSpans(t *testing.T) {
	html := `<html><body>
<header>
<span class="credit-line">Visualizer: Kel Elkins (USRA)</span>
</header>
</body></html>`

	p := NewParser("")
	page, err := p.Parse(html, 3)
	require.NoError(t, err)

	require.Len(t, page.Credits, 1)
	assert.Equal(t, ParsedCredit{Role: "Visualizer", Name: "Kel Elkins", Organization: "USRA"}, page.Credits[0])
}

func TestExtractCredits_DescriptionCreditLine(t *testing.T) {
	html := `<html><body>
<section id="media_group_1">
<div class="card-body">
<p>Credit: Alex Kekesi (Lead Animator); NASA Goddard</p>
</div>
</section>
</body></html>`

	p := NewParser("")
	page, err := p.Parse(html, 4)
	require.NoError(t, err)

	assert.ElementsMatch(t, []ParsedCredit{
		{Role: "Lead Animator", Name: "Alex Kekesi"},
		{Role: "Credit", Name: "NASA Goddard"},
	}, page.Credits)
}

func TestSplitTrailingOrg(t *testing.T) {
	name, org := splitTrailingOrg("Ernie Wright (USRA)")
	assert.Equal(t, "Ernie Wright", name)
	assert.Equal(t, "USRA", org)

	name, org = splitTrailingOrg("Plain Name")
	assert.Equal(t, "Plain Name", name)
	assert.Empty(t, org)
}
