package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// RefreshLockKey guards a batch refresh. scope is an owner id or "all".
func RefreshLockKey(scope string) string {
	return fmt.Sprintf("refresh:lock:%s", scope)
}

// PollLockKey coalesces concurrent provider polls for one job.
func PollLockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:poll:%s", jobID)
}
