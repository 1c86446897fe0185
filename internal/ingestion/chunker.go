package ingestion

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/docqa/backend/pkg/utils"
)

const (
	DefaultChunkTokens   = 500
	DefaultOverlapTokens = 75

	// ChunkEncoding is the BPE vocabulary used to count and split tokens.
	ChunkEncoding = "cl100k_base"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		enc, encErr = tiktoken.GetEncoding(ChunkEncoding)
		if encErr != nil {
			encErr = fmt.Errorf("failed to load %s encoding: %w", ChunkEncoding, encErr)
		}
	})
	return enc, encErr
}

// CountTokens reports how many tokens text encodes to.
func CountTokens(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, []string{"all"}, nil)), nil
}

type Piece struct {
	Text       string
	TokenCount int
	Hash       string
}

type window struct {
	start, end int
}

// windows covers n tokens with spans of size, each span starting overlap
// tokens before the previous one ended.
func windows(n, size, overlap int) []window {
	var out []window
	for i := 0; i < n; {
		j := i + size
		if j > n {
			j = n
		}
		out = append(out, window{i, j})
		if j == n {
			break
		}
		i = j - overlap
	}
	return out
}

// ChunkText normalizes whitespace, encodes the text and decodes token
// windows of size tokens overlapping by overlap tokens.
func ChunkText(text string, size, overlap int) ([]Piece, error) {
	if size <= 0 {
		size = DefaultChunkTokens
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	text = utils.NormalizeWhitespace(text)
	if text == "" {
		return nil, nil
	}

	e, err := encoding()
	if err != nil {
		return nil, err
	}
	tokens := e.Encode(text, []string{"all"}, nil)

	spans := windows(len(tokens), size, overlap)
	pieces := make([]Piece, 0, len(spans))
	for _, w := range spans {
		piece := strings.ToValidUTF8(e.Decode(tokens[w.start:w.end]), "")
		pieces = append(pieces, Piece{
			Text:       piece,
			TokenCount: w.end - w.start,
			Hash:       utils.HashString(piece),
		})
	}

	return pieces, nil
}
