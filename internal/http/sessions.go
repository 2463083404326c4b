package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/pmv-rental/internal/broadcast"
	"github.com/example/pmv-rental/internal/journey"
	"github.com/example/pmv-rental/internal/models"
)

// session is one rider's rental attempt: a controller fed by the
// broadcaster of the station the rider stands at.
type session struct {
	id   string
	ctrl *journey.Controller

	beaconMu     sync.Mutex
	cancelBeacon context.CancelFunc
	beaconDone   chan struct{}
}

type sessionView struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Phase     string       `json:"phase"`
	StationID int          `json:"station_id,omitempty"`
	Journey   *journeyView `json:"journey,omitempty"`
}

type journeyView struct {
	ServiceID       string     `json:"service_id"`
	UserID          string     `json:"user_id"`
	VehicleID       int        `json:"vehicle_id"`
	OriginStation   int        `json:"origin_station"`
	EndStation      int        `json:"end_station,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	DistanceKm      float64    `json:"distance_km"`
	AvgSpeedKmh     float64    `json:"avg_speed_kmh"`
	AmountCents     int64      `json:"amount_cents"`
	InProgress      bool       `json:"in_progress"`
}

func viewJourney(j models.JourneyRecord) journeyView {
	v := journeyView{
		ServiceID:       j.ServiceID,
		UserID:          j.UserID,
		VehicleID:       j.VehicleID,
		OriginStation:   j.OriginStation.ID(),
		StartTime:       j.StartTime,
		EndTime:         j.EndTime,
		DurationMinutes: j.DurationMinutes,
		DistanceKm:      j.Distance,
		AvgSpeedKmh:     j.AvgSpeed,
		AmountCents:     j.Amount,
		InProgress:      j.InProgress,
	}
	if j.EndStation != nil {
		v.EndStation = j.EndStation.ID()
	}
	return v
}

func (sess *session) view() sessionView {
	v := sessionView{
		ID:        sess.id,
		UserID:    sess.ctrl.User().UserID(),
		Phase:     sess.ctrl.Phase().String(),
		StationID: sess.ctrl.Station().ID(),
	}
	if j, ok := sess.ctrl.Journey(); ok {
		jv := viewJourney(j)
		v.Journey = &jv
	}
	return v
}

type sessionRequest struct {
	UserID string `json:"user_id"`
	stationRequest
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := req.station()
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := s.user(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	ctrl, err := journey.NewController(u, journey.Deps{
		Registry: s.deps.Registry,
		Fleet:    s.deps.Fleet,
		Decoder:  s.decoder,
		Link:     s.deps.NewLink(),
		Clock:    s.deps.Clock,
		Tariff:   s.deps.Tariff,
		History:  s.deps.Store,
		Events:   s.deps.Events,
		Settler:  s.deps.Settler,
		Logger:   s.logger,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sess := &session{id: uuid.NewString(), ctrl: ctrl}
	s.mu.Lock()
	open := s.openSessionLocked(u.UserID())
	if !open {
		s.sessions[sess.id] = sess
	}
	s.mu.Unlock()
	if open {
		writeError(w, fmt.Errorf("%w: user %s already has an open session", models.ErrProcedural, u.UserID()))
		return
	}
	if err := s.startBeacon(sess, st); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("session opened", "session_id", sess.id, "user_id", u.UserID(), "station", st.Code())
	writeJSON(w, http.StatusCreated, sess.view())
}

func (s *Server) openSessionLocked(userID string) bool {
	for _, sess := range s.sessions {
		if sess.ctrl.User().UserID() == userID && !sess.ctrl.Phase().Closed() {
			return true
		}
	}
	return false
}

// startBeacon replaces the session's broadcaster with one for st. The
// first station id is delivered before it returns so the rider can scan
// straight away.
func (s *Server) startBeacon(sess *session, st models.StationID) error {
	sess.beaconMu.Lock()
	defer sess.beaconMu.Unlock()
	sess.stopBeaconLocked()
	if err := sess.ctrl.ReceiveStation(st); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	sess.cancelBeacon = cancel
	sess.beaconDone = done
	b := broadcast.New(st, s.deps.BroadcastInterval, sess.ctrl, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("station broadcaster stopped", "session_id", sess.id, "error", err)
		}
	}()
	return nil
}

func (sess *session) stopBeacon() {
	sess.beaconMu.Lock()
	defer sess.beaconMu.Unlock()
	sess.stopBeaconLocked()
}

// stopBeaconLocked cancels the running broadcaster and waits for it to exit.
func (sess *session) stopBeaconLocked() {
	if sess.cancelBeacon == nil {
		return
	}
	sess.cancelBeacon()
	<-sess.beaconDone
	sess.cancelBeacon = nil
	sess.beaconDone = nil
}

func (s *Server) session(r *http.Request) (*session, error) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errNotFound)
	}
	return sess, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.view())
}

// handleMoveSession points the session at another station, e.g. the one the
// rider is riding towards.
func (s *Server) handleMoveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
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
	if sess.ctrl.Phase().Closed() {
		writeError(w, fmt.Errorf("%w: session is closed", models.ErrProcedural))
		return
	}
	if err := s.startBeacon(sess, st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.view())
}

type scanRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess.ctrl.StageScan([]byte(req.Code))
	s.step(w, r, sess, sess.ctrl.Scan)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.step(w, r, sess, sess.ctrl.StartDriving)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.step(w, r, sess, sess.ctrl.StopDriving)
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.ctrl.Unpair(r.Context())
	if sess.ctrl.Phase().Closed() {
		s.closeSession(sess)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.view())
}

// handleDeleteSession abandons a session that has not started driving,
// releasing any pairing unbilled.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.ctrl.Cancel(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.closeSession(sess)
	w.WriteHeader(http.StatusNoContent)
}

// closeSession stops the broadcaster and forgets a closed session.
func (s *Server) closeSession(sess *session) {
	sess.stopBeacon()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.logger.Info("session closed", "session_id", sess.id, "phase", sess.ctrl.Phase().String())
}

func (s *Server) step(w http.ResponseWriter, r *http.Request, sess *session, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.view())
}
