package currency

import (
	"errors"
	"fmt"
)

// DefaultKafPerYen is the fixed exchange rate used by the ledger.
const DefaultKafPerYen = 100

// ErrInvalidRate is returned when a converter is built with a non-positive rate.
var ErrInvalidRate = errors.New("kaf per yen rate must be positive")

// Converter converts between yen and KAFer at a fixed rate.
// Both directions round up. Yen values below one yen are carried as cents.
type Converter struct {
	KafPerYen int64
}

// NewConverter returns a converter for the given rate.
// PRE: rate > 0
// POST: Returns a usable converter or ErrInvalidRate
func NewConverter(rate int64) (Converter, error) {
	if rate <= 0 {
		return Converter{}, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	return Converter{KafPerYen: rate}, nil
}

// Default returns the converter for DefaultKafPerYen.
func Default() Converter {
	return Converter{KafPerYen: DefaultKafPerYen}
}

// YenToKaf converts whole yen to KAFer: ceil(yen * rate).
func (c Converter) YenToKaf(yen int64) int64 {
	return yen * c.rate()
}

// YenCentsToKaf converts yen expressed in hundredths to KAFer: ceil(cents * rate / 100).
func (c Converter) YenCentsToKaf(cents int64) int64 {
	return ceilDiv(cents*c.rate(), 100)
}

// KafToYenCents converts KAFer to yen hundredths: ceil(kaf / rate * 100).
func (c Converter) KafToYenCents(kaf int64) int64 {
	return ceilDiv(kaf*100, c.rate())
}

// KafToYen converts KAFer to yen rounded up to two decimals.
// INVARIANT: YenCentsToKaf(KafToYenCents(k)) >= k
func (c Converter) KafToYen(kaf int64) float64 {
	return float64(c.KafToYenCents(kaf)) / 100
}

// FormatYen renders a KAFer amount as a yen string with two decimals.
func (c Converter) FormatYen(kaf int64) string {
	cents := c.KafToYenCents(kaf)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func (c Converter) rate() int64 {
	if c.KafPerYen <= 0 {
		return DefaultKafPerYen
	}
	return c.KafPerYen
}

// ceilDiv returns ceil(a/b) for b > 0.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}
