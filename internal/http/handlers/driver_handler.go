// README: Driver handlers for registration, RFID administration, the contribution gate and stats.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toda/internal/http/middleware"
	"toda/internal/modules/driver"
	"toda/internal/modules/feed"
)

type DriverHandler struct {
	drivers *driver.Service
	feed    *feed.Service
}

func NewDriverHandler(drivers *driver.Service, feeds *feed.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, feed: feeds}
}

type registerDriverReq struct {
	DriverName  string `json:"driverName"`
	PhoneNumber string `json:"phoneNumber"`
	TodaNumber  string `json:"todaNumber"`
	TricycleID  string `json:"tricycleId"`
}

// Register answers 200 for an existing driver and 202 while the application
// awaits approval.
func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if !bindJSON(c, &req) {
		return
	}
	res := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		UID:         middleware.CallerUID(c),
		DriverName:  req.DriverName,
		PhoneNumber: req.PhoneNumber,
		TodaNumber:  req.TodaNumber,
		TricycleID:  req.TricycleID,
	})
	switch res.Kind {
	case driver.RegistrationSuccess:
		writeJSON(c, http.StatusOK, gin.H{"result": res.Kind, "driver": res.Driver})
	case driver.RegistrationPending:
		writeJSON(c, http.StatusAccepted, gin.H{"result": res.Kind, "applicationId": res.ApplicationID})
	default:
		writeServiceError(c, res.Err)
	}
}

func (h *DriverHandler) Approve(c *gin.Context) {
	d, err := h.drivers.Approve(c.Request.Context(), c.Param("appId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type assignRFIDReq struct {
	RFID string `json:"rfid"`
}

func (h *DriverHandler) AssignRFID(c *gin.Context) {
	var req assignRFIDReq
	if !bindJSON(c, &req) {
		return
	}
	id := c.Param("id")
	if err := h.drivers.AssignRFID(c.Request.Context(), id, req.RFID); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driverId": id, "rfidUID": req.RFID})
}

type missingRFIDReq struct {
	Reason string `json:"reason"`
}

func (h *DriverHandler) ReportMissingRFID(c *gin.Context) {
	id := c.Param("id")
	if !selfOrStaff(c, id) {
		return
	}
	var req missingRFIDReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.drivers.ReportMissingRFID(c.Request.Context(), id, req.Reason); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driverId": id, "needsRfidAssignment": true})
}

func (h *DriverHandler) Get(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// Status reports the contribution gate for today.
func (h *DriverHandler) Status(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	paid, err := h.drivers.ContributionStatus(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	online, err := h.drivers.CanReceiveBookings(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driverId": id, "contributionToday": paid, "canReceiveBookings": online})
}

func (h *DriverHandler) Stats(c *gin.Context) {
	id := c.Param("id")
	if !selfOrStaff(c, id) {
		return
	}
	st, err := h.drivers.TodayStats(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

// Available lists PENDING bookings; empty until the driver has paid today.
func (h *DriverHandler) Available(c *gin.Context) {
	id := c.Param("id")
	if !selfOrStaff(c, id) {
		return
	}
	list, err := h.feed.AvailableBookings(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

type coinReq struct {
	RFID     string  `json:"rfid"`
	Amount   float64 `json:"amount"`
	DeviceID string  `json:"deviceId"`
}

// RecordCoin is the coin box ingress.
func (h *DriverHandler) RecordCoin(c *gin.Context) {
	var req coinReq
	if !bindJSON(c, &req) {
		return
	}
	contrib, err := h.drivers.RecordCoinInsertion(c.Request.Context(), driver.CoinCommand{
		RFID:     req.RFID,
		Amount:   req.Amount,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, contrib)
}
