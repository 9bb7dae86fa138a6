package parkingapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/BearBump/ParkDeck/internal/services/parking"
	"github.com/BearBump/ParkDeck/internal/services/revenue"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Server struct {
	Parking *parking.Service
	Revenue *revenue.Service

	// Limiter throttles registrations per client address; nil disables it.
	Limiter       RateLimiter
	RegisterLimit int64
}

func New(parkingSvc *parking.Service, revenueSvc *revenue.Service) *Server {
	return &Server{Parking: parkingSvc, Revenue: revenueSvc}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1/vehicles", func(r chi.Router) {
		r.With(s.registerRateLimit).Post("/", s.RegisterVehicle)
		r.Get("/", s.ListVehicles)
		r.Get("/{id}", s.GetVehicle)
		r.Get("/{id}/fare", s.QuoteFare)
		r.Post("/{id}/checkout", s.CheckoutVehicle)
		r.Post("/{id}/cancel", s.CancelVehicle)
	})

	r.Get("/v1/slots", s.ListSlots)
	r.Get("/v1/revenue/daily", s.ListDailyRevenue)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

type registerRequest struct {
	Name          string `json:"name"`
	PhoneNumber   string `json:"phoneNumber"`
	VehicleNumber string `json:"vehicleNumber"`
	Brand         string `json:"brand"`
	Category      string `json:"category"`
}

type vehicleResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PhoneNumber   string     `json:"phoneNumber"`
	VehicleNumber string     `json:"vehicleNumber"`
	Brand         string     `json:"brand"`
	Category      string     `json:"category"`
	SlotNumber    int        `json:"slotNumber"`
	EntryTime     time.Time  `json:"entryTime"`
	ExitTime      *time.Time `json:"exitTime"`
	ParkingFare   *int64     `json:"parkingFare"`
}

func (s *Server) RegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	v, err := s.Parking.Register(r.Context(), models.VehicleCreateInput{
		OwnerName:     req.Name,
		PhoneNumber:   req.PhoneNumber,
		VehicleNumber: req.VehicleNumber,
		Brand:         req.Brand,
		Category:      req.Category,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVehicleResponse(v))
}

func (s *Server) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.Parking.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVehicleResponse(v))
}

func (s *Server) QuoteFare(w http.ResponseWriter, r *http.Request) {
	amount, err := s.Parking.QuoteFare(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fare": amount})
}

func (s *Server) CheckoutVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.Parking.Checkout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVehicleResponse(v))
}

func (s *Server) CancelVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.Parking.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) ListVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.VehicleFilter{
		Status:        q.Get("status"),
		VehicleNumber: q.Get("vehicleNumber"),
	}
	if v := q.Get("slotNumber"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "slotNumber must be an integer")
			return
		}
		f.SlotNumber = n
	}
	if v := q.Get("date"); v != "" {
		day, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		f.Day = &day
	}

	vehicles, err := s.Parking.ListVehicles(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]vehicleResponse, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, toVehicleResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.Parking.ListSlots(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	type slotResponse struct {
		SlotNumber int  `json:"slotNumber"`
		IsOccupied bool `json:"isOccupied"`
	}
	out := make([]slotResponse, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotResponse{SlotNumber: sl.SlotNumber, IsOccupied: sl.IsOccupied})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListDailyRevenue(w http.ResponseWriter, r *http.Request) {
	if s.Revenue == nil {
		writeError(w, http.StatusNotFound, "revenue reporting is not enabled")
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
	}

	rollups, err := s.Revenue.ListDaily(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list revenue")
		return
	}
	type revenueResponse struct {
		Day       string `json:"day"`
		Category  string `json:"category"`
		Checkouts int64  `json:"checkouts"`
		TotalFare int64  `json:"totalFare"`
	}
	out := make([]revenueResponse, 0, len(rollups))
	for _, rr := range rollups {
		out = append(out, revenueResponse{
			Day:       rr.Day.Format("2006-01-02"),
			Category:  rr.Category,
			Checkouts: rr.Checkouts,
			TotalFare: rr.TotalFare,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) registerRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil || s.RegisterLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ok, _, err := s.Limiter.Allow(r.Context(), "rl:register:"+host, s.RegisterLimit, time.Minute)
		if err != nil {
			// Limiter outage must not block registrations.
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			writeError(w, http.StatusTooManyRequests, "too many registrations, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toVehicleResponse(v *models.VehicleOccupancy) vehicleResponse {
	return vehicleResponse{
		ID:            v.ID,
		Name:          v.OwnerName,
		PhoneNumber:   v.PhoneNumber,
		VehicleNumber: v.VehicleNumber,
		Brand:         v.Brand,
		Category:      v.Category,
		SlotNumber:    v.SlotNumber,
		EntryTime:     v.EntryTime,
		ExitTime:      v.ExitTime,
		ParkingFare:   v.Fare,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, parking.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, parking.ErrNotFound):
		writeError(w, http.StatusNotFound, "vehicle not found")
	case errors.Is(err, parking.ErrNoSlotAvailable):
		writeError(w, http.StatusConflict, "no parking slots available")
	case errors.Is(err, parking.ErrAlreadyCheckedOut):
		writeError(w, http.StatusConflict, "vehicle already checked out")
	case errors.Is(err, parking.ErrCancelWindowClosed):
		writeError(w, http.StatusConflict, "cancellation window closed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
