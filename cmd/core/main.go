// Command core runs the monolith process: WebSocket Message Router,
// Connection Manager, Task Dispatcher, Skill Execution Fabric, Zero-
// Knowledge Storage Protocol, billing, and the narrow internal API the
// isolated Upload Service calls back into.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openmates/core/internal/auth"
	"github.com/openmates/core/internal/billing"
	"github.com/openmates/core/internal/config"
	"github.com/openmates/core/internal/conn"
	"github.com/openmates/core/internal/db"
	"github.com/openmates/core/internal/internalapi"
	"github.com/openmates/core/internal/keystore"
	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/provider"
	"github.com/openmates/core/internal/ratelimit"
	"github.com/openmates/core/internal/settings"
	"github.com/openmates/core/internal/skills"
	"github.com/openmates/core/internal/storage"
	"github.com/openmates/core/internal/task"
	"github.com/openmates/core/internal/vaultclient"
	"github.com/openmates/core/internal/wsrouter"
	"github.com/openmates/core/internal/zkstore"
)

var logger = log.New(os.Stdout, "[core] ", log.LstdFlags)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	store, err := db.New(cfg)
	if err != nil {
		log.Fatalf("connecting to databases: %v", err)
	}
	defer store.Close()

	if err := store.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	objectStore, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("connecting to object storage: %v", err)
	}

	vault, err := vaultclient.New(cfg)
	if err != nil {
		log.Fatalf("connecting to vault: %v", err)
	}

	zk := zkstore.New(store.Postgres, store.Redis)
	keys := keystore.New(store.Postgres)
	settingsStore := settings.New(store.Postgres, vault, cfg.VaultTransitChats)
	manager := conn.New(store.Redis, cfg.ReconnectGrace)
	limiter := ratelimit.NewLimiter(store.Redis)
	verifier := auth.NewVerifier(cfg.RefreshTokenSecret)
	ledger := billing.NewLedger(store.Postgres)
	archiver := billing.NewArchiver(ledger, vault, objectStore, cfg.VaultTransitChats)
	go runArchivalLoop(store.Postgres, archiver, cfg.BillingArchiveDay)

	registry := provider.NewRegistry()
	registry.Register("claude", provider.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY")))

	skillsExec := skills.NewExecutor(sanitizeSkillOutput, billingHook(ledger))
	skillsExec.Register(skills.NewTranscriptSkill(fetchVideoTranscript), skills.Pricing{CreditsPerCall: 1})

	var tools []provider.ToolSchema
	if manifests, err := skills.LoadManifests(cfg.SkillsDir); err != nil {
		logger.Printf("WARN loading skill manifests: %v", err)
	} else {
		logger.Printf("loaded %d skill manifest(s) from %s", len(manifests), cfg.SkillsDir)
		tools = skills.ToProviderTools(manifests)
	}

	dispatcher := task.NewDispatcher(zk, store.Redis, registry, skillsExec, limiter)

	router := mux.NewRouter()

	internalapi.New(store.Postgres, vault, objectStore, ledger, verifier, cfg.InternalAPISecret, cfg.VaultTransitFiles).Mount(router)

	router.HandleFunc("/ws", wsUpgradeHandler(cfg, verifier, manager, zk, keys, dispatcher, settingsStore, tools)).Methods("GET")
	router.HandleFunc("/v1/embeds/{embed_id}/file", fileDownloadHandler(store.Postgres, objectStore)).Methods("GET")
	router.HandleFunc("/v1/embeds/{embed_id}/content", embedContentHandler(zk)).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (WS, SSE-like task output) never time out on write
	}

	go func() {
		logger.Printf("core listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("shutting down core...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	logger.Println("core exited")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsUpgradeHandler authenticates the connecting device via the same
// refresh-token cookie the Upload Service forwards, then hands the socket
// to the WS Router's per-connection read loop (§4.1, §4.2).
func wsUpgradeHandler(cfg *config.Config, verifier *auth.Verifier, manager *conn.Manager, zk *zkstore.Store, keys *keystore.Store, dispatcher *task.Dispatcher, settingsStore *settings.Store, tools []provider.ToolSchema) http.HandlerFunc {
	router := wsrouter.NewRouter()

	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("refresh_token")
		if err != nil {
			http.Error(w, "missing refresh token", http.StatusUnauthorized)
			return
		}
		claims, err := verifier.Validate(cookie.Value)
		if err != nil {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		deviceFingerprint := r.URL.Query().Get("device_fingerprint")
		if deviceFingerprint == "" {
			http.Error(w, "missing device_fingerprint", http.StatusBadRequest)
			return
		}

		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("ws upgrade failed: %v", err)
			return
		}

		key := models.DeviceKey{UserID: claims.UserID, DeviceFingerprint: deviceFingerprint}
		manager.Connect(key, sock)

		session := &wsrouter.Session{
			UserID:     claims.UserID,
			Device:     key,
			Conn:       sock,
			Manager:    manager,
			Store:      zk,
			Keys:       keys,
			Dispatcher: dispatcher,
			Settings:   settingsStore,
			Tools:      tools,
		}

		router.Run(r.Context(), session)
		manager.Disconnect(sock)
	}
}

// fileDownloadHandler serves an upload's ciphertext by redirecting to a
// short-lived presigned S3 URL; the client already holds the AES key and
// decrypts locally, so the server never needs to see plaintext (§4.8).
func fileDownloadHandler(pg *sql.DB, objectStore *storage.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embedID, err := uuid.Parse(mux.Vars(r)["embed_id"])
		if err != nil {
			http.Error(w, "invalid embed id", http.StatusBadRequest)
			return
		}
		variant := r.URL.Query().Get("variant")
		if variant == "" {
			variant = string(models.VariantOriginal)
		}

		var storageKey string
		col := map[string]string{
			string(models.VariantOriginal): "storage_key_original",
			string(models.VariantFull):     "storage_key_full",
			string(models.VariantPreview):  "storage_key_preview",
		}[variant]
		if col == "" {
			http.Error(w, "unknown variant", http.StatusBadRequest)
			return
		}

		query := fmt.Sprintf("SELECT %s FROM upload_records WHERE embed_id = $1", col)
		if err := pg.QueryRowContext(r.Context(), query, embedID).Scan(&storageKey); err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if storageKey == "" {
			http.Error(w, "variant not generated for this upload", http.StatusNotFound)
			return
		}

		url, _, err := objectStore.PresignedDownloadURL(r.Context(), storageKey, 5*time.Minute)
		if err != nil {
			http.Error(w, "generating download url", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// embedContentHandler returns an embed's encrypted_content field verbatim
// for the non-vault share modes; vault-mode embeds unwrap client-side
// using a key fetched through the normal store_embed_keys flow, not here.
func embedContentHandler(zk *zkstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embedID, err := uuid.Parse(mux.Vars(r)["embed_id"])
		if err != nil {
			http.Error(w, "invalid embed id", http.StatusBadRequest)
			return
		}
		embed, err := zk.GetEmbed(r.Context(), embedID)
		if err != nil || embed == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embed_id":          embed.ID,
			"encryption_mode":   embed.EncryptionMode,
			"encrypted_content": embed.EncryptedContent,
			"status":            embed.Status,
		})
	}
}

// runArchivalLoop runs the monthly usage archival job (§4.9) once a day,
// only doing work on cfg.BillingArchiveDay: for every (user_id_hash,
// month) pair with unarchived rows older than the 3-month hot window, it
// calls Archiver.ArchiveMonth. A per-pair failure is logged and skipped
// rather than aborting the run, so one user's archival error never blocks
// the rest of the batch.
func runArchivalLoop(pg *sql.DB, archiver *billing.Archiver, archiveDay int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	runArchivalPass(pg, archiver, archiveDay)
	for range ticker.C {
		runArchivalPass(pg, archiver, archiveDay)
	}
}

func runArchivalPass(pg *sql.DB, archiver *billing.Archiver, archiveDay int) {
	if time.Now().UTC().Day() != archiveDay {
		return
	}
	cutoff := time.Now().AddDate(0, -3, 0)

	rows, err := pg.Query(`
		SELECT DISTINCT user_id_hash, date_trunc('month', created_at)
		FROM usage_entries
		WHERE is_archived = FALSE AND created_at < $1`, cutoff)
	if err != nil {
		logger.Printf("archival pass: listing candidates: %v", err)
		return
	}
	defer rows.Close()

	type pair struct {
		userIDHash string
		month      time.Time
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.userIDHash, &p.month); err != nil {
			logger.Printf("archival pass: scanning candidate: %v", err)
			continue
		}
		pairs = append(pairs, p)
	}

	for _, p := range pairs {
		if err := archiver.ArchiveMonth(context.Background(), p.userIDHash, p.month); err != nil {
			logger.Printf("archival pass: archiving %s/%s: %v", p.userIDHash, p.month.Format("2006-01"), err)
		}
	}
}

// billingHook adapts the Skill Execution Fabric's generic BillingHook
// signature to billing.Ledger.ChargeUserCredits, recovering the charging
// user's hash the dispatcher attached to ctx (skills.BillingHook itself
// carries no task context).
func billingHook(ledger *billing.Ledger) skills.BillingHook {
	return func(ctx context.Context, idempotencyKey, skillID string, pricing skills.Pricing) error {
		userIDHash, ok := task.UserIDHashFromContext(ctx)
		if !ok {
			return fmt.Errorf("billing hook called without a user context for skill %q", skillID)
		}
		entry := models.UsageEntry{UserIDHash: userIDHash, AppID: "skills", SkillID: skillID}
		return ledger.ChargeUserCredits(ctx, idempotencyKey, entry, pricing.CreditsPerCall)
	}
}

// sanitizeSkillOutput is the one sanitization rule every skill's raw
// output passes through before reaching the model: strip NUL bytes, which
// break downstream JSON/SSE framing, and cap length so a pathological
// transcript can't blow the context window on its own.
func sanitizeSkillOutput(content string) (*string, error) {
	clean := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		if content[i] != 0 {
			clean = append(clean, content[i])
		}
	}
	const maxLen = 200_000
	if len(clean) > maxLen {
		clean = clean[:maxLen]
	}
	out := string(clean)
	return &out, nil
}

// fetchVideoTranscript retrieves a caption track from YouTube's unauthenticated
// timedtext endpoint, grounded on original_source's videos app transcript
// skill; no API key is required for this endpoint.
func fetchVideoTranscript(ctx context.Context, videoID, lang string) (string, error) {
	url := fmt.Sprintf("https://www.youtube.com/api/timedtext?v=%s&lang=%s&fmt=srv1", videoID, lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building transcript request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript endpoint returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading transcript response: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("no transcript available for %s/%s", videoID, lang)
	}
	return string(raw), nil
}
