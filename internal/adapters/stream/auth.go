package stream

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/dkeye/callstream/internal/core"
)

// Authorize checks an Authorization header against the configured token.
// An empty token accepts everything. Errors never include the credential.
func Authorize(header, token string) error {
	if token == "" {
		return nil
	}
	if header == "" {
		return fmt.Errorf("%w: missing authorization header", core.ErrAuthRejected)
	}
	scheme, cred, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return fmt.Errorf("%w: unsupported scheme", core.ErrAuthRejected)
	}
	if subtle.ConstantTimeCompare([]byte(cred), []byte(token)) != 1 {
		return fmt.Errorf("%w: token mismatch", core.ErrAuthRejected)
	}
	return nil
}
