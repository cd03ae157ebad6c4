package tunnel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// saKeyBytes is the length of each derived SA key (128-bit).
const saKeyBytes = 16

// GenerateKeys derives the four SA keys for a psk tunnel from a fresh
// random seed. Keys are generated once at creation and stored on the
// tunnel document; resync reuses them verbatim.
func GenerateKeys() (*model.TunnelKeys, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("reading key seed: %w", err)
	}

	kdf := hkdf.New(sha256.New, seed, nil, []byte("tunnel-sa-keys"))
	keys := make([]string, 4)
	for i := range keys {
		buf := make([]byte, saKeyBytes)
		if _, err := io.ReadFull(kdf, buf); err != nil {
			return nil, fmt.Errorf("deriving SA key %d: %w", i+1, err)
		}
		keys[i] = hex.EncodeToString(buf)
	}

	return &model.TunnelKeys{
		Key1: keys[0],
		Key2: keys[1],
		Key3: keys[2],
		Key4: keys[3],
	}, nil
}
