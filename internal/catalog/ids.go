package catalog

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DeriveID returns the stable identifier of a media file from its name,
// size and modification time. The same file keeps its id when its folder
// is moved; editing the file gives it a new one.
func DeriveID(name string, size int64, modTime time.Time) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s_%d_%d", name, size, modTime.UnixMilli())))
	return hex.EncodeToString(sum[:12])
}
