package upload

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openmates/core/internal/cryptoutil"
	"github.com/openmates/core/internal/models"
)

// encryptAndStore seals every variant under one AES key and one shared
// nonce (§4.8 step 5: "generate WEBP variants... sharing one AES key and
// one nonce"), then PUTs each to S3 at
// {user_id_hash}/{content_hash}/{timestamp}_{variant}.bin; the first path
// segment is the SHA-256 user-id hash, not the raw user id. Reusing one nonce
// across variants is only safe because they are distinct plaintexts under
// the same key; it would not be safe to reuse it across separate files.
func (s *Service) encryptAndStore(ctx context.Context, userIDHash, contentHash string, aesKey []byte, variants map[models.UploadVariant][]byte) (nonce []byte, s3Keys map[string]string, err error) {
	original, ok := variants[models.VariantOriginal]
	if !ok {
		return nil, nil, fmt.Errorf("no original variant to encrypt")
	}
	nonce, cipherOriginal, err := cryptoutil.EncryptRaw(aesKey, original)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypting original: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102T150405")
	s3Keys = make(map[string]string, len(variants))

	for variant, plain := range variants {
		ciphertext := cipherOriginal
		if variant != models.VariantOriginal {
			ciphertext, err = cryptoutil.EncryptRawWithNonce(aesKey, nonce, plain)
			if err != nil {
				return nil, nil, fmt.Errorf("encrypting %s variant: %w", variant, err)
			}
		}

		key := fmt.Sprintf("%s/%s/%s_%s.bin", userIDHash, contentHash, timestamp, variant)
		if err := s.storage.Put(ctx, key, bytes.NewReader(ciphertext), int64(len(ciphertext)), "application/octet-stream"); err != nil {
			return nil, nil, fmt.Errorf("uploading %s variant: %w", variant, err)
		}
		s3Keys[string(variant)] = key
	}
	return nonce, s3Keys, nil
}
