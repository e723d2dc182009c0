// Package commission splits marketplace purchase amounts between the seller
// and the platform treasury.
package commission

import (
	"coinledger/pkg/config"
	"coinledger/pkg/errutil"

	"go.uber.org/fx"
)

// Split is the outcome of dividing one purchase total. SellerShare and
// PlatformShare always sum to the total; any rounding remainder goes to the
// platform so the seller is never overpaid.
type Split struct {
	SellerShare   int64
	PlatformShare int64
}

type Splitter struct {
	platformPct int64
}

type SplitterParams struct {
	fx.In
	Config *config.Config
}

func NewSplitter(p SplitterParams) (*Splitter, error) {
	pct := p.Config.Ledger.PlatformSharePct
	if pct < 0 || pct > 100 {
		return nil, errutil.Internal("invalid platform share percentage")
	}
	return &Splitter{platformPct: pct}, nil
}

// SplitPurchase divides total into the seller and platform legs.
func (s *Splitter) SplitPurchase(total int64) Split {
	platform := total * s.platformPct / 100
	seller := total - platform

	return Split{SellerShare: seller, PlatformShare: platform}
}

var Module = fx.Module("commission",
	fx.Provide(NewSplitter),
)
