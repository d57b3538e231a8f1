package cycle

import (
	"math"
	"time"

	"cycle-systemv1/internal/model"
)

// SineSeries generates n bars whose price follows an inverted cosine with the
// given period, so troughs fall exactly on multiples of period and repeat
// with identical prices. High and low sit half a percent of amplitude above
// and below the close.
func SineSeries(n, period int, base, amplitude float64, start time.Time, step time.Duration) []model.Bar {
	if period <= 0 {
		period = 1
	}
	spread := amplitude * 0.005
	bars := make([]model.Bar, n)
	prev := base - amplitude
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i%period) / float64(period)
		price := base - amplitude*math.Cos(phase)
		bars[i] = model.Bar{
			Index: i,
			TS:    start.Add(time.Duration(i) * step),
			Open:  prev,
			High:  price + spread,
			Low:   price - spread,
			Close: price,
		}
		prev = price
	}
	return bars
}
