// Package blobstore stores upload blobs as ordered, individually staged
// blocks. A blob becomes visible only when its block list is committed.
package blobstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/gophscribe/internal/common"
)

// Store is the block-oriented blob storage used by the upload pipeline.
type Store interface {
	// Stage uploads one block without making it visible. Re-staging a block id
	// replaces its content.
	Stage(ctx context.Context, blobPath, blockID string, data []byte) error
	// Commit makes blobPath visible as the concatenation of the staged blocks in
	// exactly the given order. Staged blocks missing from the list are dropped.
	Commit(ctx context.Context, blobPath string, blockIDs []string) error
	Download(ctx context.Context, blobPath string) ([]byte, error)
	// Delete removes the blob and any staged blocks. Deleting a missing blob succeeds.
	Delete(ctx context.Context, blobPath string) error
	// URL returns a time-limited read URL for the committed blob.
	URL(ctx context.Context, blobPath string) (string, error)
}

// DefaultMaxBlockSize caps a single staged block.
const DefaultMaxBlockSize int64 = 100 << 20

var blockIDPattern = regexp.MustCompile(`^[A-Za-z0-9+/=_-]{1,128}$`)

// BlobPath returns the canonical location of a user's uploaded asset.
func BlobPath(userID, fileName string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, "/\\") {
		return "", fmt.Errorf("%w: invalid user id %q", common.ErrValidation, userID)
	}
	if fileName == "" || fileName != path.Base(fileName) || strings.ContainsAny(fileName, "/\\") || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", common.ErrValidation, fileName)
	}
	return "input/" + userID + "/" + fileName, nil
}

// BlockID returns the id of the n-th block of a blob: base64 of "block-%05d",
// so all ids of one blob have equal length.
func BlockID(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%05d", n)))
}

// ValidateBlockID rejects ids that cannot be used as block names.
func ValidateBlockID(id string) error {
	if !blockIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid block id %q", common.ErrValidation, id)
	}
	return nil
}

func checkBlock(blobPath, blockID string, size, maxSize int64) error {
	if blobPath == "" {
		return fmt.Errorf("%w: empty blob path", common.ErrValidation)
	}
	if err := ValidateBlockID(blockID); err != nil {
		return err
	}
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: block %s is %d bytes, limit %d", common.ErrPayloadTooLarge, blockID, size, maxSize)
	}
	return nil
}
