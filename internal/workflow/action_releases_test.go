package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectReleasesToRemove(testInstance *testing.T) {
	testCases := []struct {
		name     string
		releases []string
		keep     int
		expected []string
	}{
		{
			name:     "fewer than keep",
			releases: []string{"20240101000000", "20240102000000"},
			keep:     5,
			expected: nil,
		},
		{
			name:     "exactly keep",
			releases: []string{"1", "2", "3"},
			keep:     3,
			expected: nil,
		},
		{
			name:     "removes the oldest",
			releases: []string{"20240105000000", "20240101000000", "20240104000000", "20240102000000", "20240103000000"},
			keep:     2,
			expected: []string{"20240101000000", "20240102000000", "20240103000000"},
		},
		{
			name:     "keep one",
			releases: []string{"b", "a"},
			keep:     1,
			expected: []string{"a"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subtest *testing.T) {
			original := append([]string(nil), testCase.releases...)
			require.Equal(subtest, testCase.expected, selectReleasesToRemove(testCase.releases, testCase.keep))
			require.Equal(subtest, original, testCase.releases)
		})
	}
}

func TestParsePositiveInteger(testInstance *testing.T) {
	value, parseError := parsePositiveInteger("keep", " 5 ")
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, 5, value)

	_, zeroError := parsePositiveInteger("keep", "0")
	require.EqualError(testInstance, zeroError, "keep must be a positive integer, got \"0\"")

	_, textError := parsePositiveInteger("keep", "five")
	require.Error(testInstance, textError)
}
