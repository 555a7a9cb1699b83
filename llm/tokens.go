package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// 模型到 tiktoken 编码的映射。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

var (
	encCache   = make(map[string]*tiktoken.Tiktoken)
	encCacheMu sync.Mutex
)

// encodingFor resolves the tiktoken encoding for a model, trying an exact
// match first and then a prefix match. Returns nil when the encoding data
// cannot be initialized (e.g. offline first use).
func encodingFor(model string) *tiktoken.Tiktoken {
	name, ok := modelEncodings[model]
	if !ok {
		// 尝试前缀匹配。
		for prefix, n := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				name = n
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil
	}

	encCacheMu.Lock()
	defer encCacheMu.Unlock()
	if enc, cached := encCache[name]; cached {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil
	}
	encCache[name] = enc
	return enc
}

// CountTokens returns the token count of text for the given model. When the
// model's tiktoken encoding is unavailable it falls back to a character
// estimate, so the result is always usable for budgeting.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountMessages returns the total token count of a conversation including
// per-message framing overhead.
func CountMessages(model string, messages []Message) int {
	total := 0
	for _, msg := range messages {
		// 每条消息的开销: <|start|>role\n content<|end|>\n
		total += 4
		total += CountTokens(model, string(msg.Role))
		total += CountTokens(model, msg.Content)
	}
	if total > 0 {
		total += 3 // conversation-end overhead
	}
	return total
}

// estimateTokens approximates token counts by character class:
// CJK characters ~1.5 chars/token, everything else ~4 chars/token.
func estimateTokens(text string) int {
	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	cjkTokens := float64(cjkCount) / 1.5
	asciiTokens := float64(totalChars-cjkCount) / 4.0
	estimated := int(cjkTokens + asciiTokens)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // Extension A
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana + Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul
}
