package gateway

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// decodeBase64Payload tolerates both raw base64 and data URIs, which the
// gateway mixes depending on the message type.
func decodeBase64Payload(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty media payload")
	}
	if idx := strings.Index(s, ";base64,"); idx >= 0 {
		s = s[idx+len(";base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return decoded, nil
}
