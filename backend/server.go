package backend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	MessageParked    = "Bike parked"
	MessageRetrieved = "Bike retrieved"
)

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

type vacancyRequest struct {
	BikeRackID       int    `json:"bikeRackId"`
	UserDocument     string `json:"userDocument"`
	EmployeeDocument string `json:"employeeDocument"`
}

type vacancyResponse struct {
	Message     string `json:"message"`
	IsRetrieval bool   `json:"isRetrieval"`
}

// Server is an in-memory stand-in for the bike-rack API.
type Server struct {
	store *RackStore

	mu     sync.RWMutex
	users  map[string][]byte
	tokens map[string]string
	cost   int
}

// NewServer returns a server with no accounts. cost is the bcrypt cost used
// by AddUser; values below bcrypt.MinCost fall back to bcrypt.DefaultCost.
func NewServer(store *RackStore, cost int) *Server {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if store == nil {
		store = NewRackStore()
	}
	return &Server{
		store:  store,
		users:  make(map[string][]byte),
		tokens: make(map[string]string),
		cost:   cost,
	}
}

func (s *Server) Store() *RackStore { return s.store }

// AddUser registers an account that may request tokens.
func (s *Server) AddUser(email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(email)] = hash
	return nil
}

// Router mounts the API under prefix, e.g. "/bykerack".
func (s *Server) Router(prefix string) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix(prefix).Subrouter()
	api.HandleFunc("/auth", s.handleAuth).Methods(http.MethodPost)
	api.HandleFunc("/vacancy", s.handleVacancy).Methods(http.MethodPost)
	api.HandleFunc("/racks/{id:[0-9]+}", s.handleRack).Methods(http.MethodGet)
	return r
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	hash, ok := s.users[strings.ToLower(req.Email)]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		log.Warn().Str("email", req.Email).Msg("backend: rejected credentials")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = req.Email
	s.mu.Unlock()
	log.Debug().Str("email", req.Email).Msg("backend: token issued")
	writeJSON(w, http.StatusOK, authResponse{Token: token})
}

func (s *Server) handleVacancy(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorized(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req vacancyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.BikeRackID <= 0 || req.UserDocument == "" || req.EmployeeDocument == "" {
		http.Error(w, "bikeRackId, userDocument and employeeDocument are required", http.StatusBadRequest)
		return
	}
	retrieval := s.store.Toggle(req.BikeRackID, req.UserDocument, req.EmployeeDocument)
	resp := vacancyResponse{Message: MessageParked, IsRetrieval: retrieval}
	if retrieval {
		resp.Message = MessageRetrieved
	}
	log.Info().Int("rack", req.BikeRackID).Str("userDocument", req.UserDocument).Bool("retrieval", retrieval).Int("occupancy", s.store.Occupancy(req.BikeRackID)).Msg("backend: vacancy recorded")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRack(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorized(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid rack id", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bikeRackId": id, "occupancy": s.store.Occupancy(id)})
}

func (s *Server) authorized(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.tokens[token]
	return email, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("backend: failed to write response")
	}
}
