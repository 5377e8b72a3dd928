package plots

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates the chi.Router for the plots API. reportsMiddleware wraps
// the /reports routes and may be nil.
func NewRouter(svc *Services, reportsMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/plots", func(r chi.Router) {
		r.Get("/", listPlotsHandler(svc))
		r.Post("/", createPlotHandler(svc))
		r.Get("/attention", attentionHandler(svc))
		r.Get("/ready-for-sowing", readyForSowingHandler(svc))
		r.Get("/ready-for-harvest", readyForHarvestHandler(svc))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getPlotHandler(svc))
			r.Delete("/", deletePlotHandler(svc))

			r.Post("/state/propose", proposeHandler(svc))
			r.Post("/state/confirm", confirmHandler(svc))
			r.Post("/state/cancel", cancelHandler(svc))
			r.Get("/state/proposal", currentProposalHandler(svc))
			r.Post("/sowing/propose", proposeSowingHandler(svc))
			r.Post("/harvest/propose", proposeHarvestHandler(svc))
			r.Get("/transitions", transitionsHandler(svc))

			r.Post("/harvest", recordHarvestHandler(svc))
			r.Get("/harvests", listHarvestsHandler(svc))
			r.Get("/harvests/latest", latestHarvestHandler(svc))
			r.Delete("/harvests/{harvestId}", deleteHarvestHandler(svc))
			r.Get("/can-release", canReleaseHandler(svc))
			r.Get("/rest-days", restDaysHandler(svc))
			r.Post("/release", releaseHandler(svc))
			r.Post("/release-forced", releaseForcedHandler(svc))
			r.Get("/yield-comparison", yieldComparisonHandler(svc))
		})
	})

	r.Route("/harvests", func(r chi.Router) {
		r.Get("/recent", recentHarvestsHandler(svc))
		r.Get("/{harvestId}", getHarvestHandler(svc))
	})

	r.Route("/yield", func(r chi.Router) {
		r.Post("/calculate", calculateYieldHandler(svc))
		r.Post("/difference", yieldDifferenceHandler(svc))
	})

	r.Route("/reports", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if reportsMiddleware != nil {
				r.Use(reportsMiddleware)
			}
			r.Get("/summary", summaryHandler(svc))
			r.Get("/crop-yields", cropYieldsHandler(svc))
		})
		// The response cache replays JSON only.
		r.Get("/harvests.xlsx", exportHarvestsHandler(svc))
	})

	r.Get("/crops", listCropsHandler(svc))

	return r
}
