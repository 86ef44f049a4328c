package window

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/tokenizer"
)

// wordTokenizer counts whitespace-separated words, plus one end-of-turn marker.
type wordTokenizer struct{}

func (wordTokenizer) Tokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, tokenizer.ErrMalformedContent
	}
	return strings.Fields(text), nil
}

func (w wordTokenizer) CountTurn(text string) (int, error) {
	tokens, err := w.Tokenize(text)
	if err != nil {
		return 0, err
	}
	return len(tokens) + 1, nil
}

func msg(id, content string) Message {
	return Message{ID: id, AuthorID: "u-" + id, Content: content}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAppend_BoundaryElementRetained(t *testing.T) {
	m := NewManager(wordTokenizer{}, 10, nil)

	// Each message is 3 words + marker = 4 tokens.
	_, err := m.Append("c1", msg("A", "one two three"))
	require.NoError(t, err)
	_, err = m.Append("c1", msg("B", "four five six"))
	require.NoError(t, err)
	res, err := m.Append("c1", msg("C", "seven eight nine"))
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, ids(res.Context))
	assert.Equal(t, 8, res.ContextTokens)
	assert.Equal(t, 12, res.ScannedTokens)
	assert.Equal(t, 0, res.Evicted)
	assert.Equal(t, 3, m.Buffered("c1"), "boundary element A stays buffered")

	res, err = m.Append("c1", msg("D", "ten eleven twelve"))
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, ids(res.Context))
	assert.Equal(t, 8, res.ContextTokens)
	assert.Equal(t, 12, res.ScannedTokens)
	assert.Equal(t, 1, res.Evicted, "A is evicted once it falls behind the new boundary")
	assert.Equal(t, 3, m.Buffered("c1"))
}

func TestAppend_EverythingFits(t *testing.T) {
	m := NewManager(wordTokenizer{}, 10, nil)

	m.Append("c1", msg("A", "one"))
	res, err := m.Append("c1", msg("B", "two three"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, ids(res.Context))
	assert.Equal(t, 5, res.ContextTokens)
	assert.Equal(t, 5, res.ScannedTokens)
	assert.Equal(t, 2, m.Buffered("c1"))
}

func TestAppend_OversizedMessageKeptAlone(t *testing.T) {
	m := NewManager(wordTokenizer{}, 5, nil)

	m.Append("c1", msg("A", "short"))
	res, err := m.Append("c1", msg("B", "this message is far too long to fit"))
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, ids(res.Context))
	assert.Equal(t, 9, res.ContextTokens)
	assert.Equal(t, 9, res.ScannedTokens)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 1, m.Buffered("c1"))
}

func TestAppend_MalformedLeavesBufferUnmodified(t *testing.T) {
	m := NewManager(wordTokenizer{}, 10, nil)

	m.Append("c1", msg("A", "one two"))
	before := m.Context("c1")

	res, err := m.Append("c1", msg("BAD", "broken \xff"))
	require.Error(t, err)

	var cerr *ClassificationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "c1", cerr.ChannelID)
	assert.Equal(t, "BAD", cerr.MessageID)
	assert.True(t, errors.Is(err, tokenizer.ErrMalformedContent))

	assert.Equal(t, 0, res.ContextTokens)
	assert.Empty(t, res.Context)
	assert.Equal(t, before, m.Context("c1"))
	assert.Equal(t, 1, m.Buffered("c1"))
}

func TestContext_EmptyChannel(t *testing.T) {
	m := NewManager(wordTokenizer{}, 10, nil)

	res := m.Context("nobody")
	assert.Empty(t, res.Context)
	assert.Equal(t, 0, res.ContextTokens)
	assert.Equal(t, 0, res.ScannedTokens)
}

func TestChannelsAreIsolated(t *testing.T) {
	m := NewManager(wordTokenizer{}, 10, nil)

	m.Append("c1", msg("A", "one two three"))
	m.Append("c2", msg("X", "x"))

	assert.Equal(t, []string{"A"}, ids(m.Context("c1").Context))
	assert.Equal(t, []string{"X"}, ids(m.Context("c2").Context))
	assert.Equal(t, []string{"c1", "c2"}, m.Channels())
}

func TestNewManager_DefaultBudget(t *testing.T) {
	m := NewManager(wordTokenizer{}, 0, nil)
	assert.Equal(t, DefaultBudget, m.Budget())
}

func TestAppend_BudgetInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"nickel", "jar", "hello", "there", "a", "the"}

	for _, budget := range []int{1, 4, 10, 37} {
		m := NewManager(wordTokenizer{}, budget, nil)
		for i := 0; i < 300; i++ {
			n := rng.Intn(12)
			parts := make([]string, n)
			for j := range parts {
				parts[j] = words[rng.Intn(len(words))]
			}
			id := fmt.Sprintf("m%d", i)
			res, err := m.Append("c", msg(id, strings.Join(parts, " ")))
			require.NoError(t, err)

			require.NotEmpty(t, res.Context)
			assert.Equal(t, id, res.Context[len(res.Context)-1].ID, "newest message is always in context")
			if len(res.Context) > 1 {
				assert.LessOrEqual(t, res.ContextTokens, budget)
			} else if res.ContextTokens > budget {
				assert.Equal(t, n+1, res.ContextTokens)
			}
			assert.LessOrEqual(t, m.Buffered("c"), len(res.Context)+1)
		}
	}
}

func TestAppend_ConcurrentChannels(t *testing.T) {
	m := NewManager(wordTokenizer{}, 20, nil)

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			ch := fmt.Sprintf("chan-%d", c)
			for i := 0; i < 100; i++ {
				_, err := m.Append(ch, msg(fmt.Sprintf("%d-%d", c, i), "a b c"))
				assert.NoError(t, err)
			}
		}(c)
	}
	// Same-channel writers contend on one buffer.
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := m.Append("shared", msg(fmt.Sprintf("s%d-%d", w, i), "x y"))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, m.Channels(), 9)
	for _, ch := range m.Channels() {
		res := m.Context(ch)
		assert.LessOrEqual(t, res.ContextTokens, 20, ch)
	}
}
