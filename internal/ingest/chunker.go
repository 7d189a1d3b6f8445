package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Chunking parameters. Sizes are in estimated tokens.
const (
	DefaultTargetTokens  = 512
	DefaultMaxTokens     = 768
	DefaultOverlapTokens = 64
	DefaultMinTokens     = 50

	charsPerToken = 4
)

var clausePattern = regexp.MustCompile(`[,;:]\s+`)

// Chunk is one embedding-sized piece of section text.
type Chunk struct {
	Content     string
	Section     string
	Index       int
	TokenCount  int
	ContentHash string
}

// Section pairs a section name with its text. Order matters: chunk
// indices are assigned per section in the order given.
type Section struct {
	Name string
	Text string
}

// Chunker splits text into embedding-sized chunks while respecting
// section and sentence boundaries. Chunks below the minimum size are
// folded into a neighbour or dropped.
type Chunker struct {
	targetTokens  int
	maxTokens     int
	overlapTokens int
	minTokens     int
}

func NewChunker() *Chunker {
	return &Chunker{
		targetTokens:  DefaultTargetTokens,
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		minTokens:     DefaultMinTokens,
	}
}

// EstimateTokens approximates the token count of text at four
// characters per token, which is close enough for English prose.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// ChunkText splits a single section's text into chunks. Text that fits
// in one chunk is returned whole; text below the minimum is dropped.
func (c *Chunker) ChunkText(text, section string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	totalTokens := EstimateTokens(text)
	if totalTokens <= c.maxTokens {
		if totalTokens < c.minTokens {
			return nil
		}
		return []Chunk{newChunk(text, section, 0)}
	}

	sentences := splitSentences(text)

	var chunks []Chunk
	currentText := ""
	currentTokens := 0
	chunkIndex := 0

	for _, sentence := range sentences {
		sentenceTokens := EstimateTokens(sentence)

		// A single sentence longer than the max has to be split on
		// clause boundaries instead.
		if sentenceTokens > c.maxTokens {
			if currentText != "" {
				chunks = append(chunks, newChunk(currentText, section, chunkIndex))
				chunkIndex++
				currentText = ""
				currentTokens = 0
			}
			sub := c.splitLongSentence(sentence, section, chunkIndex)
			chunks = append(chunks, sub...)
			chunkIndex += len(sub)
			continue
		}

		if currentTokens+sentenceTokens > c.targetTokens {
			if currentText != "" && currentTokens >= c.minTokens {
				chunks = append(chunks, newChunk(currentText, section, chunkIndex))
				chunkIndex++

				// Seed the next chunk with trailing overlap so adjacent
				// chunks share context.
				currentText = c.overlapText(currentText) + sentence
				currentTokens = EstimateTokens(currentText)
			} else {
				currentText = strings.TrimSpace(currentText + " " + sentence)
				currentTokens = EstimateTokens(currentText)
			}
		} else {
			currentText = strings.TrimSpace(currentText + " " + sentence)
			currentTokens = EstimateTokens(currentText)
		}
	}

	if currentText != "" && currentTokens >= c.minTokens {
		chunks = append(chunks, newChunk(currentText, section, chunkIndex))
	} else if currentText != "" && len(chunks) > 0 {
		// Remainder too small to stand alone, attach it to the last chunk.
		last := chunks[len(chunks)-1]
		chunks[len(chunks)-1] = newChunk(last.Content+" "+currentText, section, last.Index)
	}

	return chunks
}

// ChunkSections chunks each section in order. Chunk indices restart at
// zero per section.
func (c *Chunker) ChunkSections(sections []Section) []Chunk {
	var all []Chunk
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		all = append(all, c.ChunkText(s.Text, s.Name)...)
	}
	return all
}

// splitSentences splits on sentence-ending punctuation followed by
// whitespace and an uppercase letter. Abbreviations mid-sentence will
// occasionally over-split, which is acceptable for chunking.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	i := 0
	for i < len(text) {
		ch := text[i]
		if ch == '.' || ch == '!' || ch == '?' {
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j > i+1 && j < len(text) && text[j] >= 'A' && text[j] <= 'Z' {
				s := strings.TrimSpace(text[start : i+1])
				if s != "" {
					sentences = append(sentences, s)
				}
				start = j
				i = j
				continue
			}
		}
		i++
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// splitLongSentence breaks an oversized sentence on clause boundaries.
// No overlap is applied between the resulting chunks.
func (c *Chunker) splitLongSentence(sentence, section string, startIndex int) []Chunk {
	parts := clausePattern.Split(sentence, -1)

	var chunks []Chunk
	currentText := ""
	chunkIndex := startIndex

	for _, part := range parts {
		if EstimateTokens(currentText+part) <= c.maxTokens {
			currentText = strings.Trim(currentText+", "+part, ", ")
		} else {
			if currentText != "" {
				chunks = append(chunks, newChunk(currentText, section, chunkIndex))
				chunkIndex++
			}
			currentText = part
		}
	}
	if currentText != "" {
		chunks = append(chunks, newChunk(currentText, section, chunkIndex))
	}
	return chunks
}

// overlapText returns the tail of the previous chunk, trimmed to start
// at a word boundary, for seeding the next chunk.
func (c *Chunker) overlapText(text string) string {
	overlapChars := c.overlapTokens * charsPerToken
	if len(text) <= overlapChars {
		return text
	}
	overlap := text[len(text)-overlapChars:]
	if idx := strings.Index(overlap, " "); idx > 0 {
		overlap = overlap[idx+1:]
	}
	return overlap + " "
}

func newChunk(content, section string, index int) Chunk {
	content = strings.TrimSpace(content)
	sum := sha256.Sum256([]byte(content))
	return Chunk{
		Content:     content,
		Section:     section,
		Index:       index,
		TokenCount:  EstimateTokens(content),
		ContentHash: hex.EncodeToString(sum[:]),
	}
}

// ChunkPageContent chunks the page-level text sections.
func (c *Chunker) ChunkPageContent(description, creditsText, downloadNotes string) []Chunk {
	return c.ChunkSections([]Section{
		{Name: "description", Text: description},
		{Name: "credits", Text: creditsText},
		{Name: "download_notes", Text: downloadNotes},
	})
}

// ChunkAssetContent chunks the asset-level text sections.
func (c *Chunker) ChunkAssetContent(caption, transcript, readme string) []Chunk {
	return c.ChunkSections([]Section{
		{Name: "caption", Text: caption},
		{Name: "transcript", Text: transcript},
		{Name: "readme", Text: readme},
	})
}
