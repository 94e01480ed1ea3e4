// Package splitter breaks document text into overlapping chunks sized for
// embedding. It descends an ordered separator hierarchy, preferring natural
// boundaries (paragraphs, then lines, then sentences, then words) and only
// cutting mid-word when nothing coarser fits.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultChunkSize is the chunk size in runes when none is configured.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the overlap in runes when none is configured.
const DefaultChunkOverlap = 200

// DefaultSeparators is the boundary hierarchy tried coarsest-first. The empty
// string terminates the descent with a hard character cut.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive character splitter. Lengths are measured in runes
// so multi-byte text chunks the same as ASCII.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New constructs a Splitter. Zero chunkSize and negative chunkOverlap take
// the defaults; an overlap equal to or larger than the chunk size can never
// make progress and fails with ErrInvalidConfiguration. An empty separator
// list takes DefaultSeparators.
func New(chunkSize, chunkOverlap int, separators []string) (*Splitter, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("splitter: %w: chunk size must be positive, got %d",
			rag.ErrInvalidConfiguration, chunkSize)
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("splitter: %w: chunk overlap %d must be smaller than chunk size %d",
			rag.ErrInvalidConfiguration, chunkOverlap, chunkSize)
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   separators,
	}, nil
}

// Split breaks text into chunks of at most the configured size, adjacent
// chunks sharing roughly chunkOverlap runes. Whitespace-only fragments are
// dropped; text already within the size limit comes back as a single chunk.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRecursive(text, s.separators)
}

// SplitDocument splits a document and wraps each chunk with its provenance:
// source name, position, and the total chunk count.
func (s *Splitter) SplitDocument(doc rag.Document) []rag.Chunk {
	pieces := s.Split(doc.Text)
	chunks := make([]rag.Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, rag.Chunk{
			Text:   text,
			Index:  i,
			Total:  len(pieces),
			Source: doc.Source,
		})
	}
	return chunks
}

// splitRecursive picks the first separator present in text, splits on it, and
// merges the fragments back up to the size limit. Fragments still too large
// descend to the next finer separator.
func (s *Splitter) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = s.hardSplit(text)
	} else {
		splits = strings.Split(text, separator)
	}

	var final []string
	var good []string
	for _, split := range splits {
		if utf8.RuneCountInString(split) < s.chunkSize {
			good = append(good, split)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.mergeSplits(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, split)
		} else {
			final = append(final, s.splitRecursive(split, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.mergeSplits(good, separator)...)
	}
	return final
}

// mergeSplits greedily packs fragments into chunks up to chunkSize, carrying
// the tail fragments forward so consecutive chunks overlap.
func (s *Splitter) mergeSplits(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var docs []string
	var current []string
	total := 0

	for _, split := range splits {
		length := utf8.RuneCountInString(split)
		if total+length+len(current)*sepLen > s.chunkSize && len(current) > 0 {
			if doc := joinTrimmed(current, separator); doc != "" {
				docs = append(docs, doc)
			}
			// Drop leading fragments until within the overlap window.
			for total > s.chunkOverlap ||
				(total+length+len(current)*sepLen > s.chunkSize && total > 0) {
				total -= utf8.RuneCountInString(current[0]) + sepLen
				current = current[1:]
			}
		}
		current = append(current, split)
		total += length + sepLen
	}

	if doc := joinTrimmed(current, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// hardSplit cuts text into chunkSize-rune pieces, each starting with the
// last chunkOverlap runes of its predecessor. Used only when the separator
// descent bottoms out on unbroken text.
func (s *Splitter) hardSplit(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.chunkSize {
		return []string{text}
	}
	// New guarantees overlap < size, so the step is always positive.
	step := s.chunkSize - s.chunkOverlap
	var out []string
	for start := 0; ; start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			return out
		}
	}
}

func joinTrimmed(parts []string, separator string) string {
	return strings.TrimSpace(strings.Join(parts, separator))
}
