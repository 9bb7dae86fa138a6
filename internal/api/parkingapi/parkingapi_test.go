package parkingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ParkDeck/internal/fare"
	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/BearBump/ParkDeck/internal/services/parking"
	"github.com/BearBump/ParkDeck/internal/services/revenue"
	"github.com/BearBump/ParkDeck/internal/storage/pgparking"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	slots    map[int]bool
	vehicles map[string]*models.VehicleOccupancy
	nextID   int

	rollups []models.DailyRevenue
}

func newMemRepo(capacity int) *memRepo {
	slots := make(map[int]bool, capacity)
	for i := 1; i <= capacity; i++ {
		slots[i] = false
	}
	return &memRepo{slots: slots, vehicles: map[string]*models.VehicleOccupancy{}}
}

func (m *memRepo) ClaimLowestFree(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nums := make([]int, 0, len(m.slots))
	for n := range m.slots {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if !m.slots[n] {
			m.slots[n] = true
			return n, nil
		}
	}
	return 0, pgparking.ErrNoFreeSlot
}

func (m *memRepo) Release(ctx context.Context, slotNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slotNumber] = false
	return nil
}

func (m *memRepo) ListSlots(ctx context.Context) ([]models.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nums := make([]int, 0, len(m.slots))
	for n := range m.slots {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]models.Slot, 0, len(nums))
	for _, n := range nums {
		out = append(out, models.Slot{SlotNumber: n, IsOccupied: m.slots[n]})
	}
	return out, nil
}

func (m *memRepo) CreateVehicle(ctx context.Context, in models.VehicleCreateInput, slotNumber int, entryTime time.Time) (*models.VehicleOccupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	v := &models.VehicleOccupancy{
		ID:            fmt.Sprintf("veh-%d", m.nextID),
		OwnerName:     in.OwnerName,
		PhoneNumber:   in.PhoneNumber,
		VehicleNumber: in.VehicleNumber,
		Brand:         in.Brand,
		Category:      in.Category,
		SlotNumber:    slotNumber,
		EntryTime:     entryTime,
	}
	m.vehicles[v.ID] = v
	return v, nil
}

func (m *memRepo) GetVehicleByID(ctx context.Context, id string) (*models.VehicleOccupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, pgparking.ErrVehicleNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memRepo) MarkCheckedOut(ctx context.Context, id string, exitTime time.Time, fareAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return pgparking.ErrVehicleNotFound
	}
	if v.ExitTime != nil {
		return pgparking.ErrAlreadyCheckedOut
	}
	t := exitTime
	v.ExitTime = &t
	v.Fare = &fareAmount
	return nil
}

func (m *memRepo) DeleteVehicle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return pgparking.ErrVehicleNotFound
	}
	delete(m.vehicles, id)
	return nil
}

func (m *memRepo) QueryVehicles(ctx context.Context, f models.VehicleFilter) ([]*models.VehicleOccupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VehicleOccupancy
	for _, v := range m.vehicles {
		switch f.Status {
		case models.StatusActive:
			if v.ExitTime != nil {
				continue
			}
		case models.StatusHistory:
			if v.ExitTime == nil {
				continue
			}
		}
		if f.SlotNumber > 0 && v.SlotNumber != f.SlotNumber {
			continue
		}
		if f.VehicleNumber != "" && !strings.Contains(strings.ToLower(v.VehicleNumber), strings.ToLower(f.VehicleNumber)) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out, nil
}

func (m *memRepo) AddCheckoutRevenue(ctx context.Context, exitTime time.Time, category string, fareAmount int64) error {
	return nil
}

func (m *memRepo) ListDailyRevenue(ctx context.Context, from, to time.Time) ([]models.DailyRevenue, error) {
	return m.rollups, nil
}

type testEnv struct {
	repo   *memRepo
	svc    *parking.Service
	server *Server
	ts     *httptest.Server
	clock  *time.Time
}

func newTestEnv(t *testing.T, capacity int) *testEnv {
	t.Helper()
	repo := newMemRepo(capacity)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	env := &testEnv{repo: repo, clock: &now}

	calc := fare.New(nil, "")
	env.svc = parking.New(repo, nil, 0, calc, nil, "", parking.DefaultCancelWindow).
		WithClock(func() time.Time { return *env.clock })
	env.server = New(env.svc, revenue.New(repo))
	env.ts = httptest.NewServer(env.server.Routes())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e *testEnv) register(t *testing.T, category string) vehicleResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/vehicles", map[string]string{
		"name":          "Asha",
		"phoneNumber":   "555-0101",
		"vehicleNumber": "KA-01-1234",
		"brand":         "Honda",
		"category":      category,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var v vehicleResponse
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestRegisterVehicle(t *testing.T) {
	env := newTestEnv(t, 2)

	v := env.register(t, models.CategoryCar)
	require.Equal(t, 1, v.SlotNumber)
	require.NotEmpty(t, v.ID)
	require.Nil(t, v.ExitTime)
	require.Nil(t, v.ParkingFare)

	v2 := env.register(t, models.CategoryMotorcycle)
	require.Equal(t, 2, v2.SlotNumber)
}

func TestRegisterVehicle_BadRequests(t *testing.T) {
	env := newTestEnv(t, 1)

	resp, _ := env.do(t, http.MethodPost, "/v1/vehicles", map[string]string{"name": "Asha"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/vehicles", strings.NewReader("{broken"))
	require.NoError(t, err)
	raw, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestRegisterVehicle_PoolExhausted(t *testing.T) {
	env := newTestEnv(t, 1)
	env.register(t, models.CategoryCar)

	resp, body := env.do(t, http.MethodPost, "/v1/vehicles", map[string]string{
		"name": "Ben", "phoneNumber": "555-0102", "vehicleNumber": "KA-02-9",
		"brand": "Tata", "category": models.CategoryTruck,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "no parking slots")
}

func TestQuoteAndCheckoutFlow(t *testing.T) {
	env := newTestEnv(t, 1)
	v := env.register(t, models.CategoryTruck)

	env.advance(time.Hour)

	resp, body := env.do(t, http.MethodGet, "/v1/vehicles/"+v.ID+"/fare", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote struct {
		Fare int64 `json:"fare"`
	}
	require.NoError(t, json.Unmarshal(body, &quote))
	require.Equal(t, int64(42), quote.Fare)

	resp, body = env.do(t, http.MethodPost, "/v1/vehicles/"+v.ID+"/checkout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out vehicleResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.ExitTime)
	require.NotNil(t, out.ParkingFare)
	require.Equal(t, int64(42), *out.ParkingFare)

	// Second checkout conflicts.
	resp, _ = env.do(t, http.MethodPost, "/v1/vehicles/"+v.ID+"/checkout", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// The slot came back to the pool.
	v2 := env.register(t, models.CategoryCar)
	require.Equal(t, v.SlotNumber, v2.SlotNumber)
}

func TestCancelVehicle(t *testing.T) {
	env := newTestEnv(t, 1)
	v := env.register(t, models.CategoryCar)

	env.advance(time.Minute)
	resp, body := env.do(t, http.MethodPost, "/v1/vehicles/"+v.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "true")

	resp, _ = env.do(t, http.MethodGet, "/v1/vehicles/"+v.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelVehicle_WindowClosed(t *testing.T) {
	env := newTestEnv(t, 1)
	v := env.register(t, models.CategoryCar)

	env.advance(parking.DefaultCancelWindow + time.Second)
	resp, body := env.do(t, http.MethodPost, "/v1/vehicles/"+v.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "window")
}

func TestGetVehicle_NotFound(t *testing.T) {
	env := newTestEnv(t, 1)
	resp, _ := env.do(t, http.MethodGet, "/v1/vehicles/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListVehicles_Filters(t *testing.T) {
	env := newTestEnv(t, 3)
	v1 := env.register(t, models.CategoryCar)
	env.advance(time.Minute)
	env.register(t, models.CategoryMotorcycle)
	env.advance(time.Minute)

	_, _ = env.do(t, http.MethodPost, "/v1/vehicles/"+v1.ID+"/checkout", nil)

	resp, body := env.do(t, http.MethodGet, "/v1/vehicles?status=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []vehicleResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	require.Nil(t, list[0].ExitTime)

	resp, body = env.do(t, http.MethodGet, "/v1/vehicles?status=history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	require.Equal(t, v1.ID, list[0].ID)

	resp, _ = env.do(t, http.MethodGet, "/v1/vehicles?status=parked", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/vehicles?slotNumber=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/vehicles?vehicleNumber=ka-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
}

func TestListSlots(t *testing.T) {
	env := newTestEnv(t, 3)
	env.register(t, models.CategoryCar)

	resp, body := env.do(t, http.MethodGet, "/v1/slots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var slots []struct {
		SlotNumber int  `json:"slotNumber"`
		IsOccupied bool `json:"isOccupied"`
	}
	require.NoError(t, json.Unmarshal(body, &slots))
	require.Len(t, slots, 3)
	require.True(t, slots[0].IsOccupied)
	require.False(t, slots[1].IsOccupied)
}

func TestListDailyRevenue(t *testing.T) {
	env := newTestEnv(t, 1)
	env.repo.rollups = []models.DailyRevenue{
		{Day: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Category: models.CategoryCar, Checkouts: 3, TotalFare: 90},
	}

	resp, body := env.do(t, http.MethodGet, "/v1/revenue/daily?from=2025-06-01&to=2025-06-07", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []struct {
		Day       string `json:"day"`
		Category  string `json:"category"`
		Checkouts int64  `json:"checkouts"`
		TotalFare int64  `json:"totalFare"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, 1)
	require.Equal(t, "2025-06-01", out[0].Day)
	require.Equal(t, int64(90), out[0].TotalFare)

	resp, _ = env.do(t, http.MethodGet, "/v1/revenue/daily?from=bad", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type fakeLimiter struct {
	allowed   bool
	err       error
	lastKey   string
	lastLimit int64
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	f.lastKey = key
	f.lastLimit = limit
	return f.allowed, 0, f.err
}

func TestRegisterRateLimit(t *testing.T) {
	env := newTestEnv(t, 5)
	lim := &fakeLimiter{allowed: true}
	env.server.Limiter = lim
	env.server.RegisterLimit = 2

	env.register(t, models.CategoryCar)
	require.True(t, strings.HasPrefix(lim.lastKey, "rl:register:"))
	require.Equal(t, int64(2), lim.lastLimit)

	lim.allowed = false
	resp, _ := env.do(t, http.MethodPost, "/v1/vehicles", map[string]string{
		"name": "Ben", "phoneNumber": "555-0102", "vehicleNumber": "KA-02-9",
		"brand": "Tata", "category": models.CategoryCar,
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A limiter outage does not block registrations.
	lim.err = errors.New("redis down")
	resp, _ = env.do(t, http.MethodPost, "/v1/vehicles", map[string]string{
		"name": "Ben", "phoneNumber": "555-0102", "vehicleNumber": "KA-02-9",
		"brand": "Tata", "category": models.CategoryCar,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 1)
	resp, _ := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
