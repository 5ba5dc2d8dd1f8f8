package api

import (
	"fmt"

	"github.com/clustercore/batchcore/logx"
)

var invariantLog = logx.For("invariant")

// Invariantf enforces a condition spec.md §7 classifies as fatal: a
// violated invariant (negative refcount, a shadow pointing at a freed
// job, a resource-model bitmap size mismatch at reconfig) indicates lost
// internal consistency the caller cannot safely continue past. It logs
// at error severity and panics rather than propagating an error, since
// there is no recovery path a caller could take.
func Invariantf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	invariantLog.Error().Msg(msg)
	panic(msg)
}
