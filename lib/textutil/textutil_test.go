package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFoldDigits(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"۱۳:۰۰-۱۵:۰۰", "13:00-15:00"},
		{"٠٩:٣٠", "09:30"},
		{"13:00", "13:00"},
		{"شنبه ۸:۰۰", "شنبه 8:00"},
		{"", ""},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, FoldDigits(test.input))
	}
}

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(t, "a b c", CollapseWhitespace("  a \t b \n c "))
	require.Equal(t, "", CollapseWhitespace(" \n\t "))
}

func TestNormalizeArabicLetters(t *testing.T) {
	require.Equal(t, "یک", NormalizeArabicLetters("يك"))
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "johnsmith", NormalizeName("  John Smith\n"))
}
