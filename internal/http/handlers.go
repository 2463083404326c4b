package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/pmv-rental/internal/geo"
	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/registry"
)

// stationRequest names a station either by number or by its printed code
// ("ST-0001"); when both are sent they must agree.
type stationRequest struct {
	StationID   int     `json:"station_id"`
	StationCode string  `json:"station_code"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (sr stationRequest) station() (models.StationID, error) {
	p, err := models.NewGeographicPoint(sr.Lat, sr.Lon)
	if err != nil {
		return models.StationID{}, err
	}
	if sr.StationCode == "" {
		return models.NewStationID(sr.StationID, p)
	}
	st, err := models.ParseStationCode(sr.StationCode, p)
	if err != nil {
		return models.StationID{}, err
	}
	if sr.StationID != 0 && sr.StationID != st.ID() {
		return models.StationID{}, fmt.Errorf("%w: station_id %d does not match station_code %s", models.ErrValidation, sr.StationID, sr.StationCode)
	}
	return st, nil
}

type vehicleRequest struct {
	ID int `json:"id"`
	stationRequest
}

type vehicleView struct {
	VehicleID   int          `json:"vehicle_id"`
	Code        string       `json:"code"`
	StationID   int          `json:"station_id"`
	Loc         models.Coord `json:"loc"`
	State       string       `json:"state"`
	Available   bool         `json:"available"`
	UserID      string       `json:"user_id,omitempty"`
	Maintenance bool         `json:"maintenance"`
}

func (s *Server) vehicleView(st registry.Status) vehicleView {
	v := vehicleView{
		VehicleID:   st.VehicleID,
		Code:        fmt.Sprintf("PMV:%d", st.VehicleID),
		StationID:   st.Station.ID(),
		Loc:         models.CoordOf(st.Location),
		Available:   st.Available,
		UserID:      st.UserID,
		Maintenance: st.Maintenance,
	}
	if pmv, err := s.deps.Fleet.Get(st.VehicleID); err == nil {
		v.State = pmv.State().String()
	}
	return v
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	home, err := req.station()
	if err != nil {
		writeError(w, err)
		return
	}
	vid, err := models.NewVehicleID(req.ID, home)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.deps.Fleet.Add(vid); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Registry.AddVehicle(r.Context(), vid); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.deps.Registry.Vehicle(vid.ID())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.vehicleView(st))
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Registry.Vehicles()
	out := make([]vehicleView, 0, len(all))
	for _, st := range all {
		out = append(out, s.vehicleView(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	st, err := s.deps.Registry.Vehicle(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vehicleView(st))
}

// handleVehicleLocation records that staff moved a parked vehicle.
func (s *Server) handleVehicleLocation(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	var req stationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := req.station()
	if err != nil {
		writeError(w, err)
		return
	}
	pmv, err := s.deps.Fleet.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Registry.RegisterLocation(r.Context(), pmv.ID(), st); err != nil {
		writeError(w, err)
		return
	}
	pmv.SetLocation(st.Location())
	status, err := s.deps.Registry.Vehicle(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vehicleView(status))
}

type maintenanceRequest struct {
	Maintenance bool `json:"maintenance"`
}

// handleVehicleMaintenance takes a parked vehicle out of service or puts it
// back. The registry is updated first so no rider can pair in between; the
// vehicle's own state follows, and a refused transition rolls the registry
// back.
func (s *Server) handleVehicleMaintenance(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	var req maintenanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pmv, err := s.deps.Fleet.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := s.deps.Registry.Vehicle(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if status.Maintenance == req.Maintenance {
		writeJSON(w, http.StatusOK, s.vehicleView(status))
		return
	}
	if err := s.deps.Registry.SetMaintenance(r.Context(), pmv.ID(), req.Maintenance); err != nil {
		writeError(w, err)
		return
	}
	transition := pmv.SetMaintenance
	if !req.Maintenance {
		transition = pmv.Release
	}
	if err := transition(); err != nil {
		if rerr := s.deps.Registry.SetMaintenance(r.Context(), pmv.ID(), !req.Maintenance); rerr != nil {
			s.logger.Error("maintenance rollback failed", "vehicle_id", id, "error", rerr)
		}
		writeError(w, err)
		return
	}
	status, err = s.deps.Registry.Vehicle(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.vehicleView(status))
}

type nearbyView struct {
	vehicleView
	DistanceM   float64 `json:"distance_m"`
	WalkSeconds float64 `json:"walk_seconds"`
}

func (s *Server) handleNearbyVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, fmt.Errorf("%w: lat and lon query parameters are required", models.ErrValidation))
		return
	}
	rider, err := models.NewGeographicPoint(lat, lon)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := s.deps.NearbyLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= limit {
		limit = v
	}
	if s.deps.Index == nil {
		writeJSON(w, http.StatusOK, []nearbyView{})
		return
	}
	locs, err := s.deps.Index.Nearby(r.Context(), lat, lon, limit)
	if err != nil {
		s.logger.Error("nearby lookup failed", "error", err)
		writeError(w, err)
		return
	}
	out := make([]nearbyView, 0, len(locs))
	for _, l := range locs {
		st, err := s.deps.Registry.Vehicle(l.VehicleID)
		if err != nil || !st.Available {
			continue
		}
		walk, err := s.deps.ETA.EstimateSeconds(r.Context(), rider, st.Location)
		if err != nil {
			s.logger.Warn("eta failed", "vehicle_id", l.VehicleID, "error", err)
		}
		out = append(out, nearbyView{
			vehicleView: s.vehicleView(st),
			DistanceM:   geo.DistanceKm(rider, st.Location) * 1000,
			WalkSeconds: walk,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type userRequest struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	WalletCents int64  `json:"wallet_cents"`
}

type userView struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	WalletCents int64  `json:"wallet_cents"`
}

func viewUser(u *models.UserAccount) userView {
	return userView{UserID: u.UserID(), Username: u.Username(), Email: u.Email(), WalletCents: u.WalletBalance()}
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := models.NewUserAccount(req.UserID, req.Username, req.Email, req.Password, req.WalletCents)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	_, exists := s.users[u.UserID()]
	if !exists {
		s.users[u.UserID()] = u
	}
	s.mu.Unlock()
	if exists {
		writeError(w, fmt.Errorf("%w: user %s already exists", models.ErrValidation, u.UserID()))
		return
	}
	writeJSON(w, http.StatusCreated, viewUser(u))
}

func (s *Server) user(id string) (*models.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, errNotFound)
	}
	return u, nil
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.user(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}

func (s *Server) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.user(id); err != nil {
		writeError(w, err)
		return
	}
	js, err := s.deps.Store.ListJourneys(r.Context(), id)
	if err != nil {
		s.logger.Error("list journeys failed", "user_id", id, "error", err)
		writeError(w, err)
		return
	}
	out := make([]journeyView, 0, len(js))
	for _, j := range js {
		out = append(out, viewJourney(j))
	}
	writeJSON(w, http.StatusOK, out)
}
