package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/openmates/core/internal/cryptoutil"
	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/storage"
)

var logger = log.New(os.Stdout, "[upload] ", log.LstdFlags)

// allowedMIMETypes is the whitelist from §4.8 step 2: an image/* subset
// plus PDF. Everything else is rejected before any bytes are processed.
var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"application/pdf": true,
}

// Config holds everything the Service needs that isn't per-request.
type Config struct {
	CoreBaseURL        string
	InternalSecret     string
	MaxUploadBytes     int64
	MaxPDFPages        int
	CreditsPerPDFPage  float64
	MalwareScannerAddr string
	AIGenDetectorURL   string
}

// Service runs the admit-scan-encrypt-store pipeline for one file at a
// time; callers (the HTTP handler in cmd/uploadsvc) invoke Process per
// request, each in its own goroutine.
type Service struct {
	cfg     Config
	core    *coreClient
	storage *storage.Service
	// cpuSlots bounds how many CPU-bound steps (scan, image resize, PDF
	// page count) run at once, so a burst of uploads never starves the
	// cooperative I/O loop (§5 "CPU-bound steps must run in a worker pool").
	cpuSlots chan struct{}
}

func New(cfg Config, store *storage.Service) *Service {
	slots := runtime.NumCPU()
	if slots < 1 {
		slots = 1
	}
	return &Service{
		cfg:      cfg,
		core:     newCoreClient(cfg.CoreBaseURL, cfg.InternalSecret),
		storage:  store,
		cpuSlots: make(chan struct{}, slots),
	}
}

// runCPUBound acquires one worker slot, runs fn, then releases it.
func (s *Service) runCPUBound(fn func() error) error {
	s.cpuSlots <- struct{}{}
	defer func() { <-s.cpuSlots }()
	return fn()
}

// Request is one file admission request, already authenticated by the
// caller via RefreshToken.
type Request struct {
	RefreshToken string
	Filename     string
	MimeType     string
	Data         []byte
}

// Response is what the client uses to build the embed TOON content and
// ship it through the normal zero-knowledge store_embed flow (§4.8 step 10).
type Response struct {
	EmbedID            string            `json:"embed_id"`
	S3Keys             map[string]string `json:"s3_keys"`
	AESKeyB64          string            `json:"aes_key"`
	AESNonceB64        string            `json:"aes_nonce"`
	VaultWrappedAESKey string            `json:"vault_wrapped_aes_key"`
	ScanClean          bool              `json:"scan_clean"`
	AIGenerated        *bool             `json:"ai_generated,omitempty"`
	PageCount          *int              `json:"page_count,omitempty"`
	Deduplicated       bool              `json:"deduplicated"`
}

// Process runs the full admission pipeline for one file.
func (s *Service) Process(ctx context.Context, req Request) (*Response, error) {
	if int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("file exceeds max upload size of %d bytes", s.cfg.MaxUploadBytes)
	}
	if !allowedMIMETypes[req.MimeType] {
		return nil, fmt.Errorf("mime type %q is not accepted", req.MimeType)
	}

	userIDHash, vaultKeyID, _, err := s.core.validateToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("authenticating upload: %w", err)
	}

	contentHash := hashBytes(req.Data)
	if existing, dedup, err := s.core.checkDuplicate(ctx, userIDHash, contentHash); err != nil {
		return nil, fmt.Errorf("checking for duplicate: %w", err)
	} else if dedup {
		return s.responseFromRecord(existing, true), nil
	}

	var scan scanResult
	if err := s.runCPUBound(func() error {
		var scanErr error
		scan, scanErr = scanForMalware(s.cfg.MalwareScannerAddr, req.Data, 30*time.Second)
		return scanErr
	}); err != nil {
		return nil, fmt.Errorf("running malware scan: %w", err)
	}
	if !scan.Clean {
		return nil, fmt.Errorf("file rejected: threat detected (%s)", scan.ThreatName)
	}

	aesKey, err := cryptoutil.NewAESKey()
	if err != nil {
		return nil, fmt.Errorf("generating envelope key: %w", err)
	}

	var (
		aiGenerated *bool
		pageCount   *int
		plainVariants = map[models.UploadVariant][]byte{models.VariantOriginal: req.Data}
	)

	switch {
	case strings.HasPrefix(req.MimeType, "image/"):
		aiGenerated = detectAIGenerated(ctx, s.cfg.AIGenDetectorURL, req.Data, req.MimeType)
		if err := s.runCPUBound(func() error {
			variants, err := renderVariants(req.Data)
			if err != nil {
				return err
			}
			plainVariants = variants
			return nil
		}); err != nil {
			return nil, fmt.Errorf("generating image variants: %w", err)
		}

	case req.MimeType == "application/pdf":
		var n int
		if err := s.runCPUBound(func() error {
			var countErr error
			n, countErr = countPDFPages(req.Data, s.cfg.MaxPDFPages)
			return countErr
		}); err != nil {
			return nil, fmt.Errorf("counting pdf pages: %w", err)
		}
		pageCount = &n

		cost := float64(n) * s.cfg.CreditsPerPDFPage
		idempotencyKey := fmt.Sprintf("upload:%s:%s", userIDHash, contentHash)
		entry := models.UsageEntry{UserIDHash: userIDHash, AppID: "uploads", SkillID: "pdf_ingest"}
		if err := s.core.chargeCredits(ctx, idempotencyKey, entry, cost); err != nil {
			return nil, fmt.Errorf("charging pdf upload: %w", err)
		}
	}

	wrapped, err := s.core.wrapKey(ctx, base64.StdEncoding.EncodeToString(aesKey), vaultKeyID)
	if err != nil {
		return nil, fmt.Errorf("wrapping envelope key: %w", err)
	}

	nonce, s3Keys, err := s.encryptAndStore(ctx, userIDHash, contentHash, aesKey, plainVariants)
	if err != nil {
		return nil, err
	}

	rec := models.UploadRecord{
		UserIDHash:         userIDHash,
		ContentHash:        contentHash,
		MimeType:           req.MimeType,
		SizeBytes:          int64(len(req.Data)),
		StorageKeyOriginal: s3Keys[string(models.VariantOriginal)],
		StorageKeyFull:     s3Keys[string(models.VariantFull)],
		StorageKeyPreview:  s3Keys[string(models.VariantPreview)],
		VaultWrappedAESKey: wrapped,
		AESNonceB64:        base64.StdEncoding.EncodeToString(nonce),
		ScanClean:          scan.Clean,
		AIGenerated:        aiGenerated,
		PageCount:          pageCount,
	}
	embedID, err := s.core.storeRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	if req.MimeType == "application/pdf" {
		s.core.triggerPDFProcessing(ctx, userIDHash, contentHash, rec.StorageKeyOriginal)
	}

	return &Response{
		EmbedID:            embedID,
		S3Keys:             s3Keys,
		AESKeyB64:          base64.StdEncoding.EncodeToString(aesKey),
		AESNonceB64:        rec.AESNonceB64,
		VaultWrappedAESKey: wrapped,
		ScanClean:          scan.Clean,
		AIGenerated:        aiGenerated,
		PageCount:          pageCount,
		Deduplicated:       false,
	}, nil
}

func (s *Service) responseFromRecord(rec *models.UploadRecord, dedup bool) *Response {
	return &Response{
		EmbedID: rec.EmbedID.String(),
		S3Keys: map[string]string{
			string(models.VariantOriginal): rec.StorageKeyOriginal,
			string(models.VariantFull):      rec.StorageKeyFull,
			string(models.VariantPreview):   rec.StorageKeyPreview,
		},
		VaultWrappedAESKey: rec.VaultWrappedAESKey,
		AESNonceB64:        rec.AESNonceB64,
		ScanClean:          rec.ScanClean,
		AIGenerated:        rec.AIGenerated,
		PageCount:          rec.PageCount,
		Deduplicated:       dedup,
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
