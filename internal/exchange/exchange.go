// Package exchange implements the file-based script hand-off used in
// generic mode: the relay drops scripts into <dir>/pending and the loader
// running inside the game client picks them up, moving them to <dir>/done.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Dir is one exchange directory pair. Scripts are signed with the shared
// secret when one is configured, so the loader can refuse tampered files.
type Dir struct {
	root   string
	secret string
}

// Open ensures the pending/ and done/ subdirectories exist.
func Open(root, secret string) (*Dir, error) {
	for _, sub := range []string{"pending", "done"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create exchange dir: %w", err)
		}
	}
	return &Dir{root: root, secret: secret}, nil
}

// Root returns the exchange root path.
func (d *Dir) Root() string { return d.root }

// WritePending writes a script into pending/ under a fresh file id and
// returns that id. With a secret configured the first line is a
// "-- SIG:<hex>" header carrying the HMAC-SHA256 of the script body.
func (d *Dir) WritePending(script string) (string, error) {
	fileID := uuid.NewString()
	path := filepath.Join(d.root, "pending", fileID+".lua")

	content := script
	if d.secret != "" {
		content = fmt.Sprintf("-- SIG:%s\n%s", d.Sign(script), script)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write script file: %w", err)
	}
	return fileID, nil
}

// Sign returns the hex HMAC-SHA256 of script under the shared secret.
func (d *Dir) Sign(script string) string {
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(script))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches script. With no secret
// configured signing is disabled and everything verifies.
func (d *Dir) Verify(script, signature string) bool {
	if d.secret == "" {
		return true
	}
	expected := d.Sign(script)
	return hmac.Equal([]byte(expected), []byte(signature))
}
