// README: Booking handlers for create/get/status transitions and manual matching.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"toda/internal/http/middleware"
	"toda/internal/modules/booking"
	"toda/internal/modules/driver"
	"toda/internal/modules/queue"
	"toda/internal/types"
)

type BookingHandler struct {
	bookings *booking.Service
	drivers  *driver.Service
	matcher  *queue.Matcher
}

func NewBookingHandler(bookings *booking.Service, drivers *driver.Service, matcher *queue.Matcher) *BookingHandler {
	return &BookingHandler{bookings: bookings, drivers: drivers, matcher: matcher}
}

type pointReq struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (p *pointReq) point() types.Point {
	if p == nil {
		return types.Point{}
	}
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

type createBookingReq struct {
	CustomerName    string    `json:"customerName"`
	PhoneNumber     string    `json:"phoneNumber"`
	IsPhoneVerified bool      `json:"isPhoneVerified"`
	PickupLocation  string    `json:"pickupLocation"`
	Destination     string    `json:"destination"`
	PickupGeoPoint  *pointReq `json:"pickupGeoPoint"`
	DropoffGeoPoint *pointReq `json:"dropoffGeoPoint"`
	EstimatedFare   float64   `json:"estimatedFare"`
}

// Create books a ride for the caller and tries the queue once. A booking that
// finds no driver stays PENDING for the rematch loop.
func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if !bindJSON(c, &req) {
		return
	}
	id, err := h.bookings.Create(c.Request.Context(), booking.CreateCommand{
		CustomerID:      middleware.CallerUID(c),
		CustomerName:    req.CustomerName,
		PhoneNumber:     req.PhoneNumber,
		IsPhoneVerified: req.IsPhoneVerified,
		PickupLocation:  req.PickupLocation,
		Destination:     req.Destination,
		PickupGeoPoint:  req.PickupGeoPoint.point(),
		DropoffGeoPoint: req.DropoffGeoPoint.point(),
		EstimatedFare:   req.EstimatedFare,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := gin.H{"bookingId": id, "status": booking.StatusPending}
	if h.matcher != nil {
		res, err := h.matcher.MatchBookingToFirstDriver(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
		} else {
			resp["match"] = res
			if res.OK() {
				resp["status"] = booking.StatusAccepted
			}
		}
	}
	writeJSON(c, http.StatusCreated, resp)
}

// Get hides the phone number and verification code from callers who are
// neither staff nor a party to the booking.
func (h *BookingHandler) Get(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !isStaff(c) && middleware.CallerUID(c) != b.CustomerID && !h.assignedToCaller(c, b) {
		writeJSON(c, http.StatusOK, b.Redacted())
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Pending(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.bookings.Pending(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

type updateStatusReq struct {
	Status   string `json:"status"`
	DriverID string `json:"driverId"`
}

func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Status == "" {
		writeError(c, http.StatusBadRequest, "missing status")
		return
	}
	cmd := booking.UpdateStatusCommand{
		BookingID: types.ID(c.Param("id")),
		Status:    booking.Status(req.Status),
		DriverID:  req.DriverID,
		ActorType: middleware.CallerRole(c),
		ActorID:   middleware.CallerUID(c),
	}
	if middleware.CallerRole(c) == middleware.RoleDriver {
		cmd.DriverID = middleware.CallerUID(c)
		// Accepting is how a driver takes an unassigned booking.
		if cmd.Status != booking.StatusAccepted && !h.driverOwns(c, cmd.BookingID) {
			return
		}
	}
	if err := h.bookings.UpdateStatus(c.Request.Context(), cmd); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookingId": cmd.BookingID, "status": cmd.Status})
}

func (h *BookingHandler) Arrived(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if !h.driverOwns(c, id) {
		return
	}
	if err := h.bookings.MarkArrivedAtPickup(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookingId": id, "arrivedAtPickup": true})
}

func (h *BookingHandler) NoShow(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if !h.driverOwns(c, id) {
		return
	}
	if err := h.bookings.ReportNoShow(c.Request.Context(), id, middleware.CallerUID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookingId": id, "status": booking.StatusNoShow})
}

// Cancel is open to the booking's customer and to staff.
func (h *BookingHandler) Cancel(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if !selfOrStaff(c, b.CustomerID) {
		return
	}
	if err := h.bookings.Cancel(c.Request.Context(), b.ID, middleware.CallerRole(c), middleware.CallerUID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookingId": b.ID, "status": booking.StatusCancelled})
}

func (h *BookingHandler) History(c *gin.Context) {
	events, err := h.bookings.History(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if events == nil {
		events = []booking.Event{}
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

// Match runs one queue match for the booking on behalf of a dispatcher.
func (h *BookingHandler) Match(c *gin.Context) {
	if h.matcher == nil {
		writeError(c, http.StatusServiceUnavailable, "matching disabled")
		return
	}
	res, err := h.matcher.MatchBookingToFirstDriver(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// driverOwns holds drivers to bookings assigned to them; other roles pass.
func (h *BookingHandler) driverOwns(c *gin.Context, id types.ID) bool {
	if middleware.CallerRole(c) != middleware.RoleDriver {
		return true
	}
	b, err := h.bookings.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return false
	}
	if !h.assignedToCaller(c, b) {
		writeError(c, http.StatusForbidden, "forbidden: booking is not assigned to this driver")
		return false
	}
	return true
}

// assignedToCaller matches the booking against the caller's driver id and,
// for RFID-only assignments, the caller's registered RFID.
func (h *BookingHandler) assignedToCaller(c *gin.Context, b *booking.Booking) bool {
	uid := middleware.CallerUID(c)
	if b.BelongsTo(uid, "") {
		return true
	}
	if h.drivers == nil || b.DriverRFID == "" {
		return false
	}
	d, err := h.drivers.Get(c.Request.Context(), uid)
	if err != nil {
		return false
	}
	return b.BelongsTo(uid, d.RFIDUID)
}

func (h *BookingHandler) load(c *gin.Context) (*booking.Booking, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing booking id")
		return nil, false
	}
	b, err := h.bookings.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return b, true
}
