package transform

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Band is a canonical VAT band code.
type Band string

// The closed set of VAT bands.
const (
	BandZero     Band = "0"
	BandReduced  Band = "5"
	BandStandard Band = "20"
	BandOther    Band = "other"
)

// Bands in pivot column order.
var Bands = []Band{BandZero, BandReduced, BandStandard, BandOther}

// ErrUnknownVATBand flags an item row whose band is outside the closed set.
var ErrUnknownVATBand = eris.New("unknown vat band")

// bandLabels maps the warehouse labels (lowercased) to band codes.
var bandLabels = map[string]Band{
	"0% vat band":              BandZero,
	"5% vat band":              BandReduced,
	"20% vat band":             BandStandard,
	"other / unknown vat band": BandOther,
	"0":                        BandZero,
	"5":                        BandReduced,
	"20":                       BandStandard,
	"other":                    BandOther,
}

// ParseBand maps a warehouse VAT band label to its code. Already-normalised
// codes map to themselves.
func ParseBand(label string) (Band, error) {
	if b, ok := bandLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return b, nil
	}
	return "", eris.Wrapf(ErrUnknownVATBand, "%q", label)
}

func (b Band) index() int {
	switch b {
	case BandZero:
		return 0
	case BandReduced:
		return 1
	case BandStandard:
		return 2
	default:
		return 3
	}
}
