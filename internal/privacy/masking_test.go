package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMaskScenario(t *testing.T) {
	text := "Kart: 4539148803436467, TC: 10000000146"
	findings, err := Normalize(text, newTestDetector(t).Detect(text))
	require.NoError(t, err)
	require.Len(t, findings, 2)

	t.Run("single selection", func(t *testing.T) {
		got := Mask(text, findings, NewIDSet(findings[0].ID))
		assert.Equal(t, "Kart: [Kredi Kartı], TC: 10000000146", got)
	})

	t.Run("all findings", func(t *testing.T) {
		assert.Equal(t, "Kart: [Kredi Kartı], TC: [TC Kimlik]", MaskAll(text, findings))
	})

	t.Run("english tokens", func(t *testing.T) {
		tokens, ok := Tokens("EN")
		require.True(t, ok)
		got := MaskWith(tokens, text, findings, AllIDs(findings))
		assert.Equal(t, "Kart: [Credit Card], TC: [National ID]", got)
	})

	t.Run("unknown id is ignored", func(t *testing.T) {
		assert.Equal(t, text, Mask(text, findings, NewIDSet("Email-0-950")))
	})
}

func TestMaskMultibyte(t *testing.T) {
	text := "Şükrü Öztürk — sukru.ozturk@ornek.com.tr, teşekkürler"
	findings, err := Normalize(text, newTestDetector(t).Detect(text))
	require.NoError(t, err)
	require.Len(t, findings, 1)

	assert.Equal(t, "Şükrü Öztürk — [E-posta], teşekkürler", MaskAll(text, findings))
}

func TestMaskOverlaps(t *testing.T) {
	text := "1234 5678 end"
	card := Finding{ID: "card", Category: CategoryCreditCard, Start: 0, End: 9}
	head := Finding{ID: "head", Category: CategoryOther, Start: 0, End: 4}
	tail := Finding{ID: "tail", Category: CategoryOther, Start: 5, End: 9}

	tests := []struct {
		name     string
		findings []Finding
		ids      IDSet
		want     string
	}{
		{"same start keeps discovery order", []Finding{card, head}, NewIDSet("card", "head"), "[Kredi Kartı] end"},
		{"same start other first", []Finding{head, card}, NewIDSet("card", "head"), "[PII] 5678 end"},
		{"nested later start skipped", []Finding{tail, card}, NewIDSet("card", "tail"), "[Kredi Kartı] end"},
		{"unselected span still claims range", []Finding{card, tail}, NewIDSet("tail"), text},
		{"disjoint", []Finding{tail, head}, NewIDSet("head", "tail"), "[PII] [PII] end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(text, tt.findings, tt.ids))
		})
	}
}

func TestMaskIgnoresInvalidSpans(t *testing.T) {
	text := "abc"
	findings := []Finding{
		{ID: "far", Category: CategoryOther, Start: 2, End: 10},
		{ID: "neg", Category: CategoryOther, Start: -2, End: 1},
	}
	assert.Equal(t, text, MaskAll(text, findings))
}

func TestMaskDoesNotReorderInput(t *testing.T) {
	text := "a@b.co x@y.co"
	findings := []Finding{
		{ID: "second", Category: CategoryEmail, Start: 7, End: 13},
		{ID: "first", Category: CategoryEmail, Start: 0, End: 6},
	}
	MaskAll(text, findings)
	assert.Equal(t, "second", findings[0].ID)
}

func TestMaskBlankText(t *testing.T) {
	f := []Finding{{ID: "x", Category: CategoryOther, Start: 0, End: 2}}
	assert.Equal(t, "", MaskAll("", f))
	assert.Equal(t, "   ", MaskAll("   ", f))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"en", "tr"}, Locales())

	tr, ok := Tokens("tr")
	require.True(t, ok)
	for _, c := range Categories {
		assert.NotEmpty(t, tr.Token(c), "category %s", c)
	}
	assert.Equal(t, "[PII]", tr.Token("Passport"))

	_, ok = Tokens("de")
	assert.False(t, ok)
}

func TestMaskEmptySelectionIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		n := len([]rune(text))
		findings := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) Finding {
			start := rapid.IntRange(0, n).Draw(t, "start")
			end := rapid.IntRange(start, n).Draw(t, "end")
			return Finding{ID: rapid.StringMatching(`[a-z]{1,3}`).Draw(t, "id"), Category: CategoryOther, Start: start, End: end}
		}), 0, 8).Draw(t, "findings")

		if got := Mask(text, findings, NewIDSet()); got != text {
			t.Fatalf("empty selection changed text: %q -> %q", text, got)
		}
	})
}

func TestMaskDisjointSpans(t *testing.T) {
	alphabet := rapid.RuneFrom([]rune("ab çğüş—1@. "))
	category := rapid.SampledFrom(Categories)

	rapid.Check(t, func(t *rapid.T) {
		var text, want strings.Builder
		var findings []Finding
		ids := NewIDSet()
		tokens := maskTokens[DefaultLocale]
		pos := 0

		n := rapid.IntRange(0, 6).Draw(t, "spans")
		for i := 0; i < n; i++ {
			gap := rapid.StringOfN(alphabet, 0, 4, -1).Draw(t, "gap")
			value := rapid.StringOfN(alphabet, 1, 5, -1).Draw(t, "value")
			c := category.Draw(t, "category")
			selected := rapid.Bool().Draw(t, "selected")

			text.WriteString(gap)
			text.WriteString(value)
			pos += len([]rune(gap))
			size := len([]rune(value))

			f := Finding{ID: FindingID(c, i, 1), Category: c, Value: value, Start: pos, End: pos + size}
			findings = append(findings, f)
			pos += size

			want.WriteString(gap)
			if selected {
				ids[f.ID] = struct{}{}
				want.WriteString(tokens.Token(c))
			} else {
				want.WriteString(value)
			}
		}
		tail := rapid.StringOfN(alphabet, 0, 4, -1).Draw(t, "tail")
		text.WriteString(tail)
		want.WriteString(tail)

		if strings.TrimSpace(text.String()) == "" {
			return
		}

		shuffled := rapid.Permutation(findings).Draw(t, "order")
		if got := Mask(text.String(), shuffled, ids); got != want.String() {
			t.Fatalf("mask %q\n got %q\nwant %q", text.String(), got, want.String())
		}
	})
}
