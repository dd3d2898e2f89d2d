package tag

import "github.com/roach88/weft/internal/errs"

// newMalformed wraps a grammar violation in the shared error taxonomy so
// callers can distinguish "unparseable" from "denied".
func newMalformed(raw, reason string) error {
	return errs.Newf(errs.CodeMalformedTag, "%s: %q", reason, raw)
}
