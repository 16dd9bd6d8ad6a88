// Package internalapi is the narrow HTTP surface the isolated Upload
// Service calls back into (§6 "internal endpoints"), grounded on the
// teacher's AuthMiddleware pattern
// (cmd/users-service/internal/handlers/auth_handler.go) but checking a
// shared-secret header instead of a session cookie — the caller here is
// another one of our own processes, not an end user.
package internalapi

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/openmates/core/internal/auth"
	"github.com/openmates/core/internal/billing"
	"github.com/openmates/core/internal/storage"
	"github.com/openmates/core/internal/vaultclient"
)

var logger = log.New(os.Stdout, "[internalapi] ", log.LstdFlags)

// Server bundles the dependencies every internal handler needs.
type Server struct {
	db       *sql.DB
	vault    *vaultclient.Client
	storage  *storage.Service
	ledger   *billing.Ledger
	verifier *auth.Verifier
	secret   string
	filesKey string // vault transit key name for upload-service envelope keys
}

func New(db *sql.DB, vault *vaultclient.Client, store *storage.Service, ledger *billing.Ledger, verifier *auth.Verifier, sharedSecret, filesTransitKey string) *Server {
	return &Server{db: db, vault: vault, storage: store, ledger: ledger, verifier: verifier, secret: sharedSecret, filesKey: filesTransitKey}
}

// Mount registers every /internal/* route under r.
func (s *Server) Mount(r *mux.Router) {
	sub := r.PathPrefix("/internal").Subrouter()
	sub.Use(s.requireSharedSecret)

	sub.HandleFunc("/validate-token", s.handleValidateToken).Methods(http.MethodPost)
	sub.HandleFunc("/uploads/check-duplicate", s.handleCheckDuplicate).Methods(http.MethodPost)
	sub.HandleFunc("/uploads/wrap-key", s.handleWrapKey).Methods(http.MethodPost)
	sub.HandleFunc("/uploads/store-record", s.handleStoreRecord).Methods(http.MethodPost)
	sub.HandleFunc("/billing/charge", s.handleChargeCredits).Methods(http.MethodPost)
	sub.HandleFunc("/pdf/process", s.handlePDFProcess).Methods(http.MethodPost)
}

// requireSharedSecret rejects any request not carrying the shared token
// issued out-of-band to the Upload Service — nothing on this subrouter is
// reachable from the public internet.
func (s *Server) requireSharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-Service-Token") != s.secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("encoding response: %v", err)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
