package cycleengine

import (
	"encoding/json"
	"net/http"

	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/model"
)

// View is the read-only picture of the engine served over HTTP. The process
// loop replaces it after every bar; State is never mutated in place, so
// readers can hold it without copying.
type View struct {
	Config     cycle.Config              `json:"config"`
	LastIndex  int                       `json:"last_index"`
	Closed     []model.Cycle             `json:"closed"`
	Stats      model.CycleStats          `json:"stats"`
	Current    *model.Cycle              `json:"current,omitempty"`
	Projection *model.ProjectionEstimate `json:"projection,omitempty"`
}

// publishView refreshes the view from the engine and the events of the last bar.
func (svc *Service) publishView(events []model.Event) {
	st := svc.engine.State()
	v := View{
		Config:    svc.engine.Config(),
		LastIndex: st.LastIndex,
		Closed:    st.Closed,
		Stats:     st.Stats,
	}
	if cur, ok := svc.engine.Current(); ok {
		v.Current = &cur
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	v.Projection = svc.view.Projection
	for i := range events {
		if events[i].Projection != nil {
			v.Projection = events[i].Projection
		}
	}
	svc.view = v
}

// CurrentView returns the latest published view.
func (svc *Service) CurrentView() View {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.view
}

// registerAPI adds GET /api/cycles, the engine's closed cycles, running
// statistics, open cycle and latest projection.
func (svc *Service) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("/api/cycles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		v := svc.CurrentView()
		json.NewEncoder(w).Encode(struct {
			Symbol string `json:"symbol"`
			View
		}{svc.cfg.Symbol, v})
	})
}
