package health

import (
	"encoding/json"
	"net/http"
	"sort"
)

// ReadinessReporter is implemented by background components, such as the
// invalidation consumer, that must be up before the instance takes traffic.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type component struct {
	Ready      bool    `json:"ready"`
	Partitions []int32 `json:"partitions,omitempty"`
}

// Readiness is ready when every named reporter is. rasters, when set,
// adds the number of loaded rasters to the body.
func Readiness(rasters func() int, reporters map[string]ReadinessReporter) http.HandlerFunc {
	names := make([]string, 0, len(reporters))
	for n := range reporters {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string               `json:"status"`
			Rasters    *int                 `json:"rasters,omitempty"`
			Components map[string]component `json:"components,omitempty"`
		}
		out := resp{Status: "ready"}
		if rasters != nil {
			n := rasters()
			out.Rasters = &n
		}
		ready := true
		for _, n := range names {
			ok, parts := reporters[n].Readiness()
			if out.Components == nil {
				out.Components = make(map[string]component, len(names))
			}
			out.Components[n] = component{Ready: ok, Partitions: parts}
			ready = ready && ok
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
