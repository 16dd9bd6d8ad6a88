// Command uploadsvc runs the Upload Service (§4.8) as its own process,
// isolated from the core monolith: it holds S3 credentials and a Transit
// key scoped to file envelopes, and reaches the core exclusively over the
// narrow /internal/uploads/* HTTP surface. It never opens a connection to
// the main Postgres database or the main Vault mount.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/openmates/core/internal/config"
	"github.com/openmates/core/internal/storage"
	"github.com/openmates/core/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	store, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("connecting to storage: %v", err)
	}

	svc := upload.New(upload.Config{
		CoreBaseURL:        cfg.CoreInternalURL,
		InternalSecret:     cfg.InternalAPISecret,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MaxPDFPages:        cfg.MaxPDFPages,
		CreditsPerPDFPage:  cfg.CreditsPerPDFPage,
		MalwareScannerAddr: cfg.MalwareScannerAddr,
		AIGenDetectorURL:   cfg.AIGenDetectorURL,
	}, store)

	r := mux.NewRouter()
	r.HandleFunc("/upload", svc.Handler()).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	port := cfg.UploadServicePort
	if port == "" {
		port = "8081"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Minute, // large multipart bodies
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Printf("upload service listening on :%s\n", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down upload service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("upload service exited")
}
