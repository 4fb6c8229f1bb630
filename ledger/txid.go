package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// NewTxID returns a random 32-character hex transaction identifier.
func NewTxID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
