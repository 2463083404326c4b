package journey

import "math"

// Tariff prices a trip in cents:
//
//	UnlockFee + PerMinute*minutes + PerKm*ceil(km*10)/10
//	  + SpeedingSurcharge if the average speed exceeded SpeedLimitKmh
//
// Distance is billed per started 100 m.
type Tariff struct {
	UnlockFee         int64
	PerMinute         int64
	PerKm             int64
	SpeedingSurcharge int64
	SpeedLimitKmh     float64
}

// Longer than any great-circle route; keeps the int64 arithmetic in range.
const maxBillableKm = 1e6

func DefaultTariff() Tariff {
	return Tariff{
		UnlockFee:         50,
		PerMinute:         15,
		PerKm:             20,
		SpeedingSurcharge: 100,
		SpeedLimitKmh:     25,
	}
}

// Amount is deterministic and never negative. Negative or non-finite
// inputs count as zero.
func (t Tariff) Amount(distanceKm float64, durationMin int, avgSpeedKmh float64) int64 {
	distanceKm = math.Min(clamp(distanceKm), maxBillableKm)
	avgSpeedKmh = clamp(avgSpeedKmh)
	if durationMin < 0 {
		durationMin = 0
	}
	amount := nonNeg(t.UnlockFee) + nonNeg(t.PerMinute)*int64(durationMin)
	tenths := int64(math.Ceil(distanceKm * 10))
	amount += nonNeg(t.PerKm) * tenths / 10
	if t.SpeedLimitKmh > 0 && avgSpeedKmh > t.SpeedLimitKmh {
		amount += nonNeg(t.SpeedingSurcharge)
	}
	return amount
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func nonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
