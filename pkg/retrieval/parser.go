package retrieval

import (
	"regexp"
	"strconv"
	"strings"
)

// slideHeading matches explicit slide markers such as "Slide 3: Architecture"
// or "Slide 3 - Architecture" at the start of a line.
var slideHeading = regexp.MustCompile(`(?i)^slide\s+(\d+)\s*[:\-–]?\s*(.*)$`)

// Parser turns raw artifact text into an ordered slide sequence.
//
// Three layouts are recognised, in priority order: explicit "Slide N:" markers,
// markdown headings ("#" / "##"), and finally blank-line separated blocks. The
// result is deterministic for a given input.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse splits text into slides. Returns nil when the text contains no
// non-whitespace content.
func (p *Parser) Parse(text string) []Slide {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(text, "\n")

	if hasSlideMarkers(lines) {
		return p.parseMarked(lines)
	}
	if hasMarkdownHeadings(lines) {
		return p.parseMarkdown(lines)
	}
	return p.parseBlocks(text)
}

// hasSlideMarkers reports whether any line carries an explicit slide marker.
func hasSlideMarkers(lines []string) bool {
	for _, l := range lines {
		if slideHeading.MatchString(strings.TrimSpace(l)) {
			return true
		}
	}
	return false
}

// hasMarkdownHeadings reports whether any line is a markdown heading.
func hasMarkdownHeadings(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "# ") || strings.HasPrefix(strings.TrimSpace(l), "## ") {
			return true
		}
	}
	return false
}

// parseMarked splits on "Slide N:" markers. Content before the first marker is
// attached to a preamble slide numbered 1 only if it is non-empty.
func (p *Parser) parseMarked(lines []string) []Slide {
	var slides []Slide
	var current *Slide

	flush := func() {
		if current != nil {
			finishSlide(current)
			slides = append(slides, *current)
			current = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if m := slideHeading.FindStringSubmatch(line); m != nil {
			flush()
			num, _ := strconv.Atoi(m[1])
			current = &Slide{Number: num, Title: strings.TrimSpace(m[2])}
			continue
		}
		if current == nil {
			if line == "" {
				continue
			}
			current = &Slide{Number: 1}
		}
		appendLine(current, line)
	}
	flush()

	renumber(slides)
	return slides
}

// parseMarkdown treats each "#"/"##" heading as a new slide title.
func (p *Parser) parseMarkdown(lines []string) []Slide {
	var slides []Slide
	var current *Slide

	flush := func() {
		if current != nil {
			finishSlide(current)
			slides = append(slides, *current)
			current = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if title, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = &Slide{Title: strings.TrimSpace(title)}
			continue
		}
		if title, ok := strings.CutPrefix(line, "# "); ok {
			flush()
			current = &Slide{Title: strings.TrimSpace(title)}
			continue
		}
		if current == nil {
			if line == "" {
				continue
			}
			current = &Slide{}
		}
		appendLine(current, line)
	}
	flush()

	renumber(slides)
	return slides
}

// parseBlocks falls back to blank-line separated blocks; a short first line of
// a block becomes its title.
func (p *Parser) parseBlocks(text string) []Slide {
	var slides []Slide
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		s := Slide{}
		lines := strings.Split(block, "\n")
		first := strings.TrimSpace(lines[0])
		rest := lines
		if len(first) <= 80 && !isBullet(first) && len(lines) > 1 {
			s.Title = first
			rest = lines[1:]
		}
		for _, l := range rest {
			appendLine(&s, strings.TrimSpace(l))
		}
		finishSlide(&s)
		slides = append(slides, s)
	}
	renumber(slides)
	return slides
}

// appendLine adds one content line to the slide, routing bullets to Bullets.
func appendLine(s *Slide, line string) {
	if line == "" {
		return
	}
	if isBullet(line) {
		for _, marker := range []string{"- ", "* ", "• "} {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				s.Bullets = append(s.Bullets, strings.TrimSpace(rest))
				return
			}
		}
	}
	if s.Content != "" {
		s.Content += "\n"
	}
	s.Content += line
}

// isBullet reports whether line starts with a bullet marker.
func isBullet(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ")
}

// finishSlide trims accumulated content.
func finishSlide(s *Slide) {
	s.Content = strings.TrimSpace(s.Content)
}

// renumber assigns sequential 1-based numbers, preserving explicit numbering
// only when it is already strictly increasing.
func renumber(slides []Slide) {
	increasing := true
	for i := range slides {
		if slides[i].Number <= 0 || (i > 0 && slides[i].Number <= slides[i-1].Number) {
			increasing = false
			break
		}
	}
	if increasing && len(slides) > 0 && slides[0].Number > 0 {
		return
	}
	for i := range slides {
		slides[i].Number = i + 1
	}
}

// MockSlides is the fixed development slide deck used when ingestion runs with
// the mock-parser flag enabled. It never appears in production ingestion.
var MockSlides = []Slide{
	{Number: 1, Title: "Project Overview", Content: "A demo project used for local development.", Bullets: []string{"Problem statement", "Proposed approach"}},
	{Number: 2, Title: "Architecture", Content: "Three-tier architecture with a message queue between ingest and storage.", Bullets: []string{"API gateway", "Worker pool", "Postgres"}},
	{Number: 3, Title: "Results", Content: "Benchmarks against the baseline implementation.", Bullets: []string{"2.4x throughput", "p99 latency 180ms"}},
}
