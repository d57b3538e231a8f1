package cycleengine

import (
	"context"
	"strconv"
	"time"

	"cycle-systemv1/internal/model"
)

// observe records the metrics of one processed bar.
func (svc *Service) observe(b model.Bar, events []model.Event, d time.Duration) {
	m := svc.prom
	m.BarsTotal.Inc()
	m.StepDur.Observe(d.Seconds())
	m.LastBarIndex.Set(float64(b.Index))

	for i := range events {
		ev := &events[i]
		m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		switch ev.Kind {
		case model.EventCycleClosed:
			m.CyclesClosed.Inc()
		case model.EventFailedCycle:
			m.FailedCycles.Inc()
		case model.EventProjection:
			m.CurrentOffset.Set(float64(ev.Projection.BarsIntoCycle))
		}
	}
	if avg, ok := svc.engine.Stats().Average(); ok {
		m.AvgCycleLen.Set(avg)
	}
	svc.health.SetLastBar(b.Index, b.TS)
}

// saturationLoop reports fan-out channel fill levels every interval.
func (svc *Service) saturationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, st := range svc.fan.ChannelStats() {
				if st.Cap == 0 {
					continue
				}
				name := svc.sinkNames[i]
				svc.prom.ChannelSaturationPct.WithLabelValues(name).Set(float64(st.Len) / float64(st.Cap) * 100)
			}
			if svc.hub != nil {
				svc.prom.WSClients.Set(float64(svc.hub.ClientCount()))
			}
		}
	}
}

func subscriberLabel(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return strconv.Itoa(idx)
}
