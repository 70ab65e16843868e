package sizer

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text by page when page separators are present, packing
// consecutive pages up to cfg.WindowSize. Pages (or page-less text) larger
// than the window are split into overlapping character windows.
func ChunkText(text string, cfg Config) []Chunk {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.WindowOverlap < 0 || cfg.WindowOverlap >= cfg.WindowSize/2 {
		cfg.WindowOverlap = cfg.WindowSize / 10
	}

	var chunks []Chunk
	appendChunk := func(c Chunk) {
		if strings.TrimSpace(c.Text) == "" {
			return
		}
		c.Index = len(chunks)
		chunks = append(chunks, c)
	}

	if !strings.Contains(text, PageSeparator) {
		for _, w := range charWindows(text, cfg.WindowSize, cfg.WindowOverlap) {
			appendChunk(w)
		}
		return chunks
	}

	pages := strings.Split(text, PageSeparator)
	var (
		buf       strings.Builder
		firstPage int
		lastPage  int
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		appendChunk(Chunk{Text: buf.String(), FirstPage: firstPage, LastPage: lastPage})
		buf.Reset()
	}

	for i, page := range pages {
		pageNo := i + 1
		if len(page) > cfg.WindowSize {
			flush()
			for _, w := range charWindows(page, cfg.WindowSize, cfg.WindowOverlap) {
				w.FirstPage, w.LastPage = pageNo, pageNo
				appendChunk(w)
			}
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(PageSeparator)+len(page) > cfg.WindowSize {
			flush()
		}
		if buf.Len() == 0 {
			firstPage = pageNo
		} else {
			buf.WriteString(PageSeparator)
		}
		buf.WriteString(page)
		lastPage = pageNo
	}
	flush()

	return chunks
}

// charWindows cuts text into windows of at most size bytes, ending on a line
// break where possible. Each window after the first starts overlap bytes
// before the previous end, moved forward to the next line start.
func charWindows(text string, size, overlap int) []Chunk {
	if len(text) <= size {
		return []Chunk{{Text: text}}
	}

	var out []Chunk
	start, prevEnd := 0, 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else if nl := strings.LastIndexByte(text[start:end], '\n'); nl > size/2 {
			end = start + nl + 1
		} else {
			end = runeBoundary(text, start, end)
		}

		c := Chunk{Text: text[start:end]}
		if start < prevEnd {
			c.Overlap = prevEnd - start
		}
		out = append(out, c)

		if end == len(text) {
			break
		}

		next := max(end-overlap, start)
		if nl := strings.IndexByte(text[next:end], '\n'); nl >= 0 {
			next += nl + 1
		}
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		if next <= start {
			next = end
		}
		start, prevEnd = next, end
	}
	return out
}

// runeBoundary moves a cut at end back onto the first byte of a rune,
// keeping at least one rune in text[start:end].
func runeBoundary(text string, start, end int) int {
	cut := end
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut > start {
		return cut
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return end
}
