package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/pmv-rental/internal/dispatch"
	"github.com/example/pmv-rental/internal/eta"
	"github.com/example/pmv-rental/internal/geo"
	"github.com/example/pmv-rental/internal/journey"
	"github.com/example/pmv-rental/internal/link"
	"github.com/example/pmv-rental/internal/models"
	"github.com/example/pmv-rental/internal/payments"
	"github.com/example/pmv-rental/internal/qr"
	"github.com/example/pmv-rental/internal/registry"
	"github.com/example/pmv-rental/internal/storage"
	"github.com/example/pmv-rental/internal/vehicle"
)

// Deps are the shared components behind the API. Registry, Fleet and
// Store are required; the rest fall back to in-process defaults.
type Deps struct {
	Registry *registry.Registry
	Fleet    *vehicle.Fleet
	Index    geo.Index
	ETA      eta.Client
	Store    storage.JourneyStore
	Events   dispatch.Publisher
	Settler  payments.Settler
	WS       *dispatch.WSRegistry
	Tariff   journey.Tariff
	Clock    journey.Clock
	NewLink  func() journey.ShortRangeLink

	BroadcastInterval time.Duration
	NearbyLimit       int
}

type Server struct {
	deps    Deps
	decoder *qr.CodeDecoder
	mux     *mux.Router
	logger  *slog.Logger

	// broadcasters run under ctx until Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	users    map[string]*models.UserAccount
	sessions map[string]*session
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.WS == nil {
		deps.WS = dispatch.NewWSRegistry()
	}
	if deps.ETA == nil {
		deps.ETA = eta.Walking{}
	}
	if deps.NewLink == nil {
		deps.NewLink = func() journey.ShortRangeLink { return link.NewSimulated() }
	}
	if deps.NearbyLimit <= 0 {
		deps.NearbyLimit = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		decoder:  qr.NewCodeDecoder(deps.Fleet),
		mux:      mux.NewRouter(),
		logger:   logger.With("component", "http"),
		ctx:      ctx,
		cancel:   cancel,
		users:    make(map[string]*models.UserAccount),
		sessions: make(map[string]*session),
	}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/vehicles", s.handleCreateVehicle).Methods(http.MethodPost)
	api.HandleFunc("/vehicles", s.handleListVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/nearby", s.handleNearbyVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id:[0-9]+}", s.handleGetVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id:[0-9]+}/location", s.handleVehicleLocation).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id:[0-9]+}/maintenance", s.handleVehicleMaintenance).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/journeys", s.handleListJourneys).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/station", s.handleMoveSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/unpair", s.handleUnpair).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close stops every station broadcaster and waits for them to exit.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", id, "error", err)
		return
	}
	s.deps.WS.Add(id, conn)
	go func() {
		defer s.deps.WS.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := models.ErrorKind(err)
	switch {
	case errors.Is(err, payments.ErrInsufficientFunds):
		kind = "insufficient_funds"
	case errors.Is(err, errNotFound):
		kind = "not_found"
	}
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrImageDecode):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrVehicleNotFound), errors.Is(err, models.ErrPairingNotFound), errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPMVNotAvailable), errors.Is(err, models.ErrProcedural):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidPairingArgs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, payments.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

var errNotFound = errors.New("not found")

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(models.ErrValidation, err)
	}
	return nil
}
