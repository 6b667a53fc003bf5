package approval

import "errors"

// ErrAlreadyPending is returned by Open when a PendingApproval already
// exists for the given callId. This is a caller bug (callIds must be
// unique within a turn) rather than a recoverable runtime condition.
var ErrAlreadyPending = errors.New("approval: already pending")
