// Package segmenter converts raw per-page document text into ordered,
// bounded retrieval chunks. Classification runs as a line-oriented scanner
// producing typed units (headings, tables, lists, code, paragraphs);
// grouping accumulates units into chunks under a size cap, preserving
// atomic structures and seeding each new chunk with overlap context.
package segmenter

import (
	"errors"
	"strings"

	"citerag/internal/chunk"
)

const (
	// DefaultMaxChunkSize is the character cap per chunk.
	DefaultMaxChunkSize = 1000

	// DefaultMinChunkSize is the floor below which a trailing sentence-split
	// fragment is merged into its predecessor instead of emitted alone.
	DefaultMinChunkSize = 100

	// DefaultOverlap is the overlap window in characters.
	DefaultOverlap = 100

	// DefaultHeadingLead is the minimum amount of lead content (in
	// characters) a heading greedily consumes so it never appears detached
	// from the text it introduces.
	DefaultHeadingLead = 200
)

// ErrInvalidConfig is returned when the overlap window is not smaller than
// the chunk size cap.
var ErrInvalidConfig = errors.New("segmenter: overlap must be less than max chunk size")

// Config controls segmentation behavior. Zero values take defaults.
type Config struct {
	MaxChunkSize int
	MinChunkSize int
	Overlap      int
	HeadingLead  int
}

// Segmenter performs structure-aware semantic segmentation. It holds no
// mutable state; a single Segmenter is safe for concurrent use.
type Segmenter struct {
	cfg Config
}

// New creates a Segmenter, applying defaults for unset config fields.
func New(cfg Config) (*Segmenter, error) {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	} else if cfg.Overlap == 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.HeadingLead <= 0 {
		cfg.HeadingLead = DefaultHeadingLead
	}
	if cfg.Overlap >= cfg.MaxChunkSize {
		return nil, ErrInvalidConfig
	}
	return &Segmenter{cfg: cfg}, nil
}

// ChunkDocuments segments every page and links adjacency across the whole
// document. Chunk indexes are monotonic over the full pass.
func (s *Segmenter) ChunkDocuments(pages []chunk.Page) []chunk.Chunk {
	var all []chunk.Chunk
	index := 0

	for _, page := range pages {
		units := s.Parse(page.Text)
		chunks := s.Group(units, page.Page, index)
		index += len(chunks)
		all = append(all, chunks...)
	}

	linkAdjacency(all)
	return all
}

// linkAdjacency assigns prev/next chunk indexes in a single pass. Links are
// mutually consistent: chunk i's next is chunk i+1's own index and vice versa.
func linkAdjacency(chunks []chunk.Chunk) {
	for i := range chunks {
		if i > 0 {
			prev := chunks[i-1].ChunkIndex
			chunks[i].Metadata.PrevChunkIndex = &prev
		}
		if i < len(chunks)-1 {
			next := chunks[i+1].ChunkIndex
			chunks[i].Metadata.NextChunkIndex = &next
		}
	}
}

// ============================================================================
// Parsing: lines -> units
// ============================================================================

// Parse classifies a page's text into an ordered unit sequence. It never
// fails: unrecognized structure degrades to paragraph handling, and empty
// input yields no units.
func (s *Segmenter) Parse(text string) []Unit {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	var units []Unit
	var sections []string

	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}

		switch {
		case headingLevel(line) > 0:
			var u Unit
			u, sections, i = s.scanHeading(lines, i, sections)
			units = append(units, u)

		case isTableRow(line):
			content, next := collectWhile(lines, i, isTableRow)
			units = append(units, Unit{
				Kind:             chunk.KindTable,
				Content:          content,
				KeepTogether:     true,
				Priority:         PriorityCritical,
				SectionHierarchy: copyStrings(sections),
			})
			i = next

		case isNumberedItem(line):
			content, next := collectList(lines, i, isNumberedItem)
			units = append(units, Unit{
				Kind:             chunk.KindNumberedList,
				Content:          content,
				KeepTogether:     true,
				Priority:         numberedListPriority(content),
				SectionHierarchy: copyStrings(sections),
				HasCrossRefs:     hasCrossReference(content),
			})
			i = next

		case isBulletItem(line):
			content, next := collectList(lines, i, isBulletItem)
			units = append(units, Unit{
				Kind:             chunk.KindBulletList,
				Content:          content,
				KeepTogether:     len(content) < s.cfg.MaxChunkSize,
				Priority:         PriorityMedium,
				SectionHierarchy: copyStrings(sections),
			})
			i = next

		case isCodeFence(line):
			content, next := collectCodeBlock(lines, i)
			units = append(units, Unit{
				Kind:             chunk.KindCodeBlock,
				Content:          content,
				KeepTogether:     true,
				Priority:         PriorityHigh,
				SectionHierarchy: copyStrings(sections),
			})
			i = next

		default:
			content, next := collectParagraph(lines, i)
			units = append(units, Unit{
				Kind:             chunk.KindParagraph,
				Content:          content,
				Priority:         PriorityLow,
				SectionHierarchy: copyStrings(sections),
			})
			i = next
		}
	}

	return units
}

// scanHeading consumes a heading line and greedily attaches its lead content
// up to the configured minimum, stopping early if a heading of equal or
// higher level begins. The section hierarchy stack is truncated to the
// heading's level and the new title pushed.
func (s *Segmenter) scanHeading(lines []string, start int, sections []string) (Unit, []string, int) {
	level := headingLevel(lines[start])
	title := headingTitle(lines[start])

	if level-1 < len(sections) {
		sections = sections[:level-1]
	}
	sections = append(copyStrings(sections), title)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(lines[start]))
	leadLen := 0

	i := start + 1
	for i < len(lines) && leadLen < s.cfg.HeadingLead {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		if lvl := headingLevel(line); lvl > 0 && lvl <= level {
			break
		}
		sb.WriteString("\n")
		sb.WriteString(line)
		leadLen += len(line)
		i++
	}

	return Unit{
		Kind:             chunk.KindHeading,
		Content:          sb.String(),
		KeepTogether:     true,
		Priority:         PriorityHigh,
		SectionHierarchy: copyStrings(sections),
	}, sections, i
}

func numberedListPriority(content string) Priority {
	if hasCrossReference(content) {
		return PriorityCritical
	}
	return PriorityHigh
}

// collectWhile gathers the contiguous run of lines matching pred.
func collectWhile(lines []string, start int, pred func(string) bool) (string, int) {
	i := start
	for i < len(lines) && pred(lines[i]) {
		i++
	}
	return strings.Join(lines[start:i], "\n"), i
}

// collectList gathers contiguous list items plus indented continuations.
func collectList(lines []string, start int, item func(string) bool) (string, int) {
	i := start
	for i < len(lines) {
		line := lines[i]
		if item(line) || (strings.TrimSpace(line) != "" && isIndented(line)) {
			i++
			continue
		}
		break
	}
	return strings.Join(lines[start:i], "\n"), i
}

// collectCodeBlock gathers fence to fence, inclusive. An unterminated fence
// runs to end of input.
func collectCodeBlock(lines []string, start int) (string, int) {
	i := start + 1
	for i < len(lines) && !isCodeFence(lines[i]) {
		i++
	}
	if i < len(lines) {
		i++ // include closing fence
	}
	return strings.Join(lines[start:i], "\n"), i
}

// collectParagraph gathers lines until a blank line or the next structural
// marker.
func collectParagraph(lines []string, start int) (string, int) {
	i := start + 1
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" || isStructuralStart(line) {
			break
		}
		i++
	}
	return strings.Join(lines[start:i], "\n"), i
}

// ============================================================================
// Grouping: units -> chunks
// ============================================================================

// Group accumulates units into chunks under the size cap. Critical units are
// never split: one that alone exceeds the cap is flushed as its own
// oversized chunk, preserving table and list integrity over the size bound.
func (s *Segmenter) Group(units []Unit, page, startIndex int) []chunk.Chunk {
	g := &grouper{seg: s, page: page, nextIndex: startIndex}

	for _, u := range units {
		if u.Kind == chunk.KindHeading {
			g.lastHeading = u.Content
		}

		switch {
		case u.Priority == PriorityCritical:
			g.addAtomic(u)
		case len(u.Content) > s.cfg.MaxChunkSize:
			// Oversized non-critical units split on sentence boundaries,
			// keep-together or not.
			g.flush()
			g.addSplit(u)
		default:
			g.add(u)
		}
	}

	g.flush()
	return g.chunks
}

// grouper holds the in-progress chunk during one Group call.
type grouper struct {
	seg       *Segmenter
	page      int
	nextIndex int

	chunks      []chunk.Chunk
	parts       []string
	partUnits   []Unit
	size        int
	seed        string
	lastHeading string
}

// add appends a unit, flushing first when the unit would push the chunk past
// the cap.
func (g *grouper) add(u Unit) {
	if g.size > 0 && g.size+len(u.Content) > g.seg.cfg.MaxChunkSize {
		g.flush()
	}
	g.parts = append(g.parts, u.Content)
	g.partUnits = append(g.partUnits, u)
	g.size += len(u.Content)
}

// addAtomic appends a critical unit, emitting it alone (even oversized) when
// it cannot share a chunk.
func (g *grouper) addAtomic(u Unit) {
	if len(u.Content) > g.seg.cfg.MaxChunkSize {
		g.flush()
		g.parts = append(g.parts, u.Content)
		g.partUnits = append(g.partUnits, u)
		g.size += len(u.Content)
		g.flush()
		return
	}
	g.add(u)
}

// addSplit splits an oversized unit on sentence boundaries, carrying overlap
// sentences between the resulting chunks. A trailing fragment below
// MinChunkSize merges into its predecessor.
func (g *grouper) addSplit(u Unit) {
	sentences := splitSentences(u.Content)
	if len(sentences) == 0 {
		return
	}

	var pieces []string
	var current []string
	size := 0

	// Consume any pending seed into the first piece.
	seed := g.seed
	g.seed = ""

	for _, sentence := range sentences {
		if size > 0 && size+len(sentence) > g.seg.cfg.MaxChunkSize {
			pieces = append(pieces, strings.Join(current, " "))
			current = trailingSentences(current, g.seg.cfg.Overlap)
			size = joinedLen(current)
		}
		current = append(current, sentence)
		size += len(sentence)
	}
	if len(current) > 0 {
		last := strings.Join(current, " ")
		if len(pieces) > 0 && len(last) < g.seg.cfg.MinChunkSize {
			pieces[len(pieces)-1] += " " + last
		} else {
			pieces = append(pieces, last)
		}
	}

	for i, piece := range pieces {
		if i == 0 && seed != "" {
			piece = seed + "\n\n" + piece
		}
		g.emit(piece, []Unit{u})
	}
	g.seed = g.overlapSeed(pieces[len(pieces)-1])
}

// flush emits the current accumulation as a chunk, if any, and records the
// overlap seed for the next chunk.
func (g *grouper) flush() {
	if len(g.parts) == 0 {
		return
	}

	var text string
	if g.seed != "" {
		text = g.seed + "\n\n" + strings.Join(g.parts, "\n\n")
	} else {
		text = strings.Join(g.parts, "\n\n")
	}

	g.emit(text, g.partUnits)

	g.seed = g.overlapSeed(strings.Join(g.parts, "\n\n"))
	g.parts = nil
	g.partUnits = nil
	g.size = 0
}

// emit creates a chunk record with aggregated metadata.
func (g *grouper) emit(text string, units []Unit) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c := chunk.Chunk{
		Text:       text,
		Page:       g.page,
		ChunkIndex: g.nextIndex,
		Metadata:   aggregateMetadata(text, units),
	}
	g.nextIndex++
	g.chunks = append(g.chunks, c)
}

// overlapSeed returns the text to seed the next chunk with: the most recent
// heading's first overlap-characters when one exists, else the trailing
// overlap-characters of the flushed text. Never longer than the overlap
// window.
func (g *grouper) overlapSeed(flushed string) string {
	overlap := g.seg.cfg.Overlap
	if overlap <= 0 {
		return ""
	}
	if g.lastHeading != "" {
		return firstChars(g.lastHeading, overlap)
	}
	return lastChars(flushed, overlap)
}

// primaryTypePrecedence decides the chunk's primary type. First kind present
// wins; heading-led chunks report heading_section.
var primaryTypePrecedence = []struct {
	kind chunk.Kind
	name string
}{
	{chunk.KindTable, "table"},
	{chunk.KindNumberedList, "numbered_list"},
	{chunk.KindHeading, "heading_section"},
	{chunk.KindBulletList, "bullet_list"},
	{chunk.KindCodeBlock, "code_block"},
	{chunk.KindParagraph, "paragraph"},
}

func aggregateMetadata(text string, units []Unit) chunk.Metadata {
	md := chunk.Metadata{CharCount: len(text)}

	kinds := make(map[chunk.Kind]bool, len(units))
	for _, u := range units {
		if !kinds[u.Kind] {
			kinds[u.Kind] = true
			md.ChunkTypes = append(md.ChunkTypes, string(u.Kind))
		}
		if u.HasCrossRefs {
			md.HasCrossReferences = true
		}
	}

	md.PrimaryType = chunk.PrimaryTypeMixed
	for _, p := range primaryTypePrecedence {
		if kinds[p.kind] {
			md.PrimaryType = p.name
			break
		}
	}

	md.HasTable = kinds[chunk.KindTable]
	md.HasList = kinds[chunk.KindNumberedList] || kinds[chunk.KindBulletList]
	md.HasCode = kinds[chunk.KindCodeBlock]

	if len(units) > 0 {
		md.SectionHierarchy = copyStrings(units[0].SectionHierarchy)
	}

	return md
}

// ============================================================================
// Small helpers
// ============================================================================

func copyStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// trailingSentences returns the suffix of sentences whose combined length
// stays within the overlap budget.
func trailingSentences(sentences []string, budget int) []string {
	var out []string
	size := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		if size+len(sentences[i]) > budget {
			break
		}
		out = append([]string{sentences[i]}, out...)
		size += len(sentences[i])
	}
	return out
}

func joinedLen(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	if len(parts) > 1 {
		n += len(parts) - 1
	}
	return n
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(chunk.CutHead(s, n))
}

func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(chunk.CutTail(s, n))
}
