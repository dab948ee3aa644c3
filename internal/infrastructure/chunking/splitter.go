package chunking

import "strings"

// Splitter packs paragraph blocks into chunks of at most MaxChars runes.
// Blocks shorter than CombineUnder are merged with their neighbours; a
// single oversized block falls back to fixed rune windows with Overlap.
type Splitter struct {
	MaxChars     int
	CombineUnder int
	Overlap      int
}

func NewSplitter(maxChars, combineUnder, overlap int) *Splitter {
	if maxChars <= 0 {
		maxChars = 4000
	}
	if combineUnder < 0 || combineUnder > maxChars {
		combineUnder = maxChars / 2
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}
	return &Splitter{
		MaxChars:     maxChars,
		CombineUnder: combineUnder,
		Overlap:      overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	blocks := paragraphBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	out := make([]string, 0, len(blocks))
	var current strings.Builder
	currentLen := 0

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			out = append(out, chunk)
		}
		current.Reset()
		currentLen = 0
	}

	for _, block := range blocks {
		blockLen := len([]rune(block))

		if blockLen > s.MaxChars {
			flush()
			out = append(out, s.splitOversized(block)...)
			continue
		}

		if currentLen > 0 && currentLen+blockLen+2 > s.MaxChars {
			flush()
		}
		// Keep accumulating small blocks until the chunk is worth emitting.
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(block)
		currentLen += blockLen

		if currentLen >= s.CombineUnder {
			flush()
		}
	}
	flush()
	return out
}

func (s *Splitter) splitOversized(block string) []string {
	runes := []rune(block)
	step := s.MaxChars - s.Overlap
	if step <= 0 {
		step = s.MaxChars
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func paragraphBlocks(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
