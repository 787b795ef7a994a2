package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUSDCAmount(t *testing.T) {
	cases := []struct {
		input string
		want  int64
	}{
		{"$0.10", 100000},
		{"$1.00", 1000000},
		{"0.50", 500000},
	}
	for _, c := range cases {
		got, err := ParseUSDCAmount(c.input)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestParseUSDCAmountRejectsInvalid(t *testing.T) {
	_, err := ParseUSDCAmount("")
	require.Error(t, err)

	_, err = ParseUSDCAmount("not-a-number")
	require.Error(t, err)
}
