// Package tokencount estimates and bounds the token cost of text sent to an
// LLM. It wraps a cl100k_base BPE encoder (the same family used by the
// model families Jervis talks to) and degrades to a length heuristic if the
// encoder cannot tokenize a given input.
package tokencount

import (
	"context"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jervis-ai/jervis/internal/telemetry"
)

// ResponseBuffer is the token allowance reserved for the model's reply when
// estimating a full request's cost.
const ResponseBuffer = 500

// lengthHeuristicDivisor approximates tokens-per-byte when the encoder
// cannot tokenize the input.
const lengthHeuristicDivisor = 4

// safetyMarginTokens is subtracted from the budget before truncating a
// single oversized sentence word-wise, leaving headroom for the appended
// ellipsis sentinel.
const safetyMarginTokens = 10

// ellipsisSentinel is appended to a chunk that was truncated mid-sentence.
const ellipsisSentinel = "…"

// Counter counts and bounds tokens for a fixed encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	logger   telemetry.Logger
}

// New constructs a Counter backed by the cl100k_base encoding. If the
// encoding cannot be loaded, every count falls back to the length
// heuristic for the lifetime of the Counter.
func New(logger telemetry.Logger) *Counter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn(context.Background(), "tokencount: failed to load cl100k_base encoding, falling back to length heuristic", "error", err)
		return &Counter{logger: logger}
	}
	return &Counter{encoding: enc, logger: logger}
}

// CountTokens returns the token count of text, using the BPE encoder when
// available and a len(text)/4 heuristic (with a warning) otherwise.
func (c *Counter) CountTokens(ctx context.Context, text string) int {
	if c.encoding == nil {
		return c.heuristicCount(ctx, text, nil)
	}
	tokens, err := c.safeEncode(text)
	if err != nil {
		return c.heuristicCount(ctx, text, err)
	}
	return len(tokens)
}

func (c *Counter) safeEncode(text string) (tokens []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			tokens = nil
			err = errPanic{r}
		}
	}()
	return c.encoding.Encode(text, nil, nil), nil
}

type errPanic struct{ v any }

func (e errPanic) Error() string { return "tiktoken encoder panicked" }

func (c *Counter) heuristicCount(ctx context.Context, text string, cause error) int {
	if cause != nil {
		c.logger.Warn(ctx, "tokencount: encoder failure, falling back to length heuristic", "error", cause)
	}
	return len(text) / lengthHeuristicDivisor
}

// EstimateTotalRequest estimates the token cost of a full request: the
// optional system prompt, the user message, and ResponseBuffer tokens
// reserved for the model's reply.
func (c *Counter) EstimateTotalRequest(ctx context.Context, system, user string) int {
	total := c.CountTokens(ctx, user) + ResponseBuffer
	if system != "" {
		total += c.CountTokens(ctx, system)
	}
	return total
}

// ProcessWithLimit chunks text by sentence terminators (. ! ?) such that no
// chunk exceeds maxTokens, and returns the first chunk as the authoritative
// summary. If a single sentence alone exceeds maxTokens, it is truncated
// word-wise with a 10-token safety margin and an ellipsis sentinel is
// appended.
func (c *Counter) ProcessWithLimit(ctx context.Context, text string, maxTokens int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	var chunk strings.Builder
	chunkTokens := 0
	for _, sentence := range sentences {
		sentenceTokens := c.CountTokens(ctx, sentence)

		if sentenceTokens > maxTokens {
			if chunk.Len() > 0 {
				return chunk.String()
			}
			return c.truncateWordwise(ctx, sentence, maxTokens)
		}

		if chunkTokens+sentenceTokens > maxTokens {
			return chunk.String()
		}

		chunk.WriteString(sentence)
		chunkTokens += sentenceTokens
	}
	return chunk.String()
}

// truncateWordwise truncates a single oversized sentence word by word until
// it fits within maxTokens-safetyMarginTokens, then appends the ellipsis
// sentinel.
func (c *Counter) truncateWordwise(ctx context.Context, sentence string, maxTokens int) string {
	budget := maxTokens - safetyMarginTokens
	if budget <= 0 {
		return ellipsisSentinel
	}

	words := strings.Fields(sentence)
	var result strings.Builder
	tokens := 0
	for i, word := range words {
		candidate := word
		if i > 0 {
			candidate = " " + word
		}
		wordTokens := c.CountTokens(ctx, candidate)
		if tokens+wordTokens > budget {
			break
		}
		result.WriteString(candidate)
		tokens += wordTokens
	}
	return result.String() + ellipsisSentinel
}

// splitSentences splits text into sentences terminated by '.', '!', or '?',
// keeping the terminator and any trailing whitespace attached to the
// preceding sentence so chunks can be concatenated without loss.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
				current.WriteRune(runes[i])
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
