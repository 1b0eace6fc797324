// README: Fare matrix handlers.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"toda/internal/modules/pricing"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

func (h *PricingHandler) Rate(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.pricing.Rate())
}

func (h *PricingHandler) Estimate(c *gin.Context) {
	km, err := strconv.ParseFloat(c.Query("km"), 64)
	if err != nil || km < 0 {
		writeError(c, http.StatusBadRequest, "invalid km")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"distanceKm": km, "fare": h.pricing.Estimate(km)})
}

func (h *PricingHandler) Update(c *gin.Context) {
	var r pricing.Rate
	if !bindJSON(c, &r) {
		return
	}
	if err := h.pricing.Update(c.Request.Context(), r); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.pricing.Rate())
}
