// README: Rating handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toda/internal/http/middleware"
	"toda/internal/modules/rating"
	"toda/internal/types"
)

type RatingHandler struct {
	ratings *rating.Service
}

func NewRatingHandler(svc *rating.Service) *RatingHandler {
	return &RatingHandler{ratings: svc}
}

func (h *RatingHandler) Get(c *gin.Context) {
	r, err := h.ratings.Find(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type submitRatingReq struct {
	Stars    int    `json:"stars"`
	Feedback string `json:"feedback"`
}

func (h *RatingHandler) Submit(c *gin.Context) {
	var req submitRatingReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.ratings.Submit(c.Request.Context(), rating.SubmitCommand{
		BookingID:  types.ID(c.Param("id")),
		CustomerID: middleware.CallerUID(c),
		Stars:      req.Stars,
		Feedback:   req.Feedback,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
