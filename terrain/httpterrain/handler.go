package httpterrain

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/terrain"
)

// NewHandler serves sampler as a terrain service speaking the same protocol
// the client expects. It lets a terrainview instance act as the terrain
// source for another one, and backs the client tests.
func NewHandler(meta Metadata, sampler terrain.Sampler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/layer.json", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, meta)
	}).Methods(http.MethodGet)

	r.HandleFunc("/heights", func(w http.ResponseWriter, req *http.Request) {
		var body heightsRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid height query: "+err.Error(), http.StatusBadRequest)
			return
		}
		if meta.MaxBatch > 0 && len(body.Points) > meta.MaxBatch {
			http.Error(w, "too many points", http.StatusRequestEntityTooLarge)
			return
		}
		positions := make([]geo.LonLat, len(body.Points))
		for i, p := range body.Points {
			positions[i] = geo.LonLat{Lon: p[0], Lat: p[1]}
		}
		samples, err := sampler.SampleMostDetailed(req.Context(), positions)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp := heightsResponse{Heights: make([]*float64, len(positions))}
		for i := range positions {
			if i < len(samples) && !math.IsNaN(samples[i].Height) && !math.IsInf(samples[i].Height, 0) {
				h := samples[i].Height
				resp.Heights[i] = &h
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
