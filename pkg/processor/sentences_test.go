package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "simple",
			text: "Sales rose. Costs fell! Why? Demand.",
			want: []string{"Sales rose.", "Costs fell!", "Why?", "Demand."},
		},
		{
			name: "abbreviations",
			text: "Apple Inc. And Mr. Cook spoke. See Note No. 4 for details.",
			want: []string{"Apple Inc. And Mr. Cook spoke.", "See Note No. 4 for details."},
		},
		{
			name: "initials and dotted words",
			text: "J. Smith joined the U.S. Board. He left.",
			want: []string{"J. Smith joined the U.S. Board.", "He left."},
		},
		{
			name: "decimals and lowercase continuation",
			text: "Margin was 37.8 percent. e.g. growth continued.",
			want: []string{"Margin was 37.8 percent. e.g. growth continued."},
		},
		{
			name: "closing quote",
			text: `He said "we grew." The year ended.`,
			want: []string{`He said "we grew."`, "The year ended."},
		},
		{
			name: "digits start a sentence",
			text: "Revenue grew. 2019 was strong.",
			want: []string{"Revenue grew.", "2019 was strong."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}

func TestUnits(t *testing.T) {
	text := "First para. Second sentence.\n\n  \nNext para."

	assert.Equal(t, []string{"First para. Second sentence.", "Next para."}, units(text, levelParagraph))
	assert.Equal(t, []string{"First para.", "Second sentence.", "Next para."}, units(text, levelSentence))
	assert.Equal(t, []string{"First", "para.", "Second", "sentence.", "Next", "para."}, units(text, levelWord))
}
