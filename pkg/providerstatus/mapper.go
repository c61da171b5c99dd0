// Package providerstatus translates the generation provider's native status
// vocabulary into the status vocabulary exposed to API clients.
//
// All functions are pure. The native value is what gets persisted; mapping
// happens only when a status is read out.
package providerstatus

// Internal statuses returned to clients.
const (
	Queued     = "queued"
	Processing = "processing"
	Completed  = "completed"
	Failed     = "failed"
)

var internal = map[string]string{
	"starting":   Processing,
	"queued":     Queued,
	"processing": Processing,
	"succeeded":  Completed,
	"failed":     Failed,
	"canceled":   Failed,
}

// Internal maps a provider status to the internal vocabulary. Statuses the
// provider may add later pass through unchanged.
func Internal(providerStatus string) string {
	if s, ok := internal[providerStatus]; ok {
		return s
	}
	return providerStatus
}

// Known reports whether the provider status is one this package maps explicitly.
func Known(providerStatus string) bool {
	_, ok := internal[providerStatus]
	return ok
}
