package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tok, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &Chars{}, tok)

	tok, err = New("chars")
	require.NoError(t, err)
	assert.IsType(t, &Chars{}, tok)

	_, err = New("wordpiece")
	assert.Error(t, err)
}

func TestChars_SpecialTokens(t *testing.T) {
	c := NewChars()
	assert.Equal(t, int32(0), c.PadToken())
	assert.Equal(t, int32(1), c.EosToken())
	assert.Equal(t, int32(-1), c.BosToken())
	assert.Equal(t, int32(-1), c.UnkToken())
	assert.Equal(t, 2+len(characters), c.VocabSize())
	assert.True(t, c.IsSpecialToken(0))
	assert.True(t, c.IsSpecialToken(1))
	assert.False(t, c.IsSpecialToken(2))
}

func TestChars_EncodeDecode(t *testing.T) {
	c := NewChars()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "Hello, world!", "hello, world!"},
		{"abbreviation", "Dr. Smith met Mrs. Jones.", "doctor smith met misess jones."},
		{"numbers", "I have 3 cats and 21 dogs.", "i have three cats and twenty one dogs."},
		{"unknown characters dropped", "a#b@c", "abc"},
		{"accents stripped", "Café naïve", "cafe naive"},
		{"whitespace collapsed", "  a \t\n b  ", "a b"},
		{"pad and eos in text dropped", "a_b~c", "abc"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := c.Encode(tt.text)
			require.NoError(t, err)
			require.NotEmpty(t, ids)
			assert.Equal(t, c.EosToken(), ids[len(ids)-1])
			for _, id := range ids[:len(ids)-1] {
				assert.False(t, c.IsSpecialToken(id))
			}

			text, err := c.Decode(ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestChars_DecodeSkipsPadding(t *testing.T) {
	c := NewChars()
	ids, err := c.Encode("ok")
	require.NoError(t, err)
	ids = append(ids, 0, 0, 0)

	text, err := c.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestChars_DecodeOutOfRange(t *testing.T) {
	c := NewChars()
	_, err := c.Decode([]int32{2, int32(c.VocabSize())})
	assert.Error(t, err)
	_, err = c.Decode([]int32{-3})
	assert.Error(t, err)
}
