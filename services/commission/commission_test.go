package commission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coinledger/pkg/config"
)

func newSplitter(t *testing.T, pct int64) *Splitter {
	cfg := &config.Config{}
	cfg.Ledger.PlatformSharePct = pct

	s, err := NewSplitter(SplitterParams{Config: cfg})
	require.NoError(t, err)
	return s
}

func TestSplitPurchase(t *testing.T) {
	s := newSplitter(t, 20)

	tests := []struct {
		total    int64
		seller   int64
		platform int64
	}{
		{100, 80, 20},
		{1, 1, 0}, // platform share floors to zero
		{5, 4, 1},
		{99, 80, 19},
		{250, 200, 50},
	}

	for _, tc := range tests {
		split := s.SplitPurchase(tc.total)
		require.Equal(t, tc.seller, split.SellerShare, "total=%d", tc.total)
		require.Equal(t, tc.platform, split.PlatformShare, "total=%d", tc.total)
		require.Equal(t, tc.total, split.SellerShare+split.PlatformShare, "shares must sum to total")
	}
}

func TestSplitPurchaseZeroCommission(t *testing.T) {
	s := newSplitter(t, 0)

	split := s.SplitPurchase(100)
	require.Equal(t, int64(100), split.SellerShare)
	require.Equal(t, int64(0), split.PlatformShare)
}

func TestNewSplitterRejectsBadPercentage(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ledger.PlatformSharePct = 120

	_, err := NewSplitter(SplitterParams{Config: cfg})
	require.Error(t, err)
}
