// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"toda/internal/http/middleware"
	"toda/internal/modules/booking"
	"toda/internal/modules/chat"
	"toda/internal/modules/driver"
	"toda/internal/modules/pricing"
	"toda/internal/modules/queue"
	"toda/internal/modules/rating"
	"toda/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusOf maps every module sentinel to its HTTP status. Anything unknown is
// a store or infrastructure failure.
func statusOf(err error) int {
	switch {
	case errors.Is(err, booking.ErrBadRequest),
		errors.Is(err, queue.ErrBadRequest),
		errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, chat.ErrBadRequest),
		errors.Is(err, rating.ErrBadRequest),
		errors.Is(err, pricing.ErrInvalidRate),
		errors.Is(err, store.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, driver.ErrDriverNotFound),
		errors.Is(err, driver.ErrApplicationNotFound),
		errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, rating.ErrNotFound),
		errors.Is(err, queue.ErrNotQueued):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden),
		errors.Is(err, rating.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrInvalidState),
		errors.Is(err, booking.ErrDriverUnavailable),
		errors.Is(err, rating.ErrAlreadyRated),
		errors.Is(err, driver.ErrRFIDInUse),
		errors.Is(err, driver.ErrNoRFID),
		errors.Is(err, queue.ErrAlreadyQueued),
		errors.Is(err, queue.ErrNotOnline):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeServiceError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		// Logged by the access log middleware.
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// isStaff reports dispatchers and admins, who may act on any record.
func isStaff(c *gin.Context) bool {
	role := middleware.CallerRole(c)
	return role == middleware.RoleDispatcher || role == middleware.RoleAdmin
}

// selfOrStaff allows a caller to act on their own id only.
func selfOrStaff(c *gin.Context, id string) bool {
	if isStaff(c) || (id != "" && middleware.CallerUID(c) == id) {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
	return false
}
