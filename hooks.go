package lockstore

// Hooks lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking.
// The decorator calls them on hot paths.
type Hooks interface {
	// A point read was served from the memo.
	Hit(storageKey string)

	// A point read missed the memo and went to the backend.
	Miss(storageKey string)

	// A memo entry was deleted by the decorator on read.
	// reason ∈ {"corrupt", "expired", "value_decode"}
	SelfHeal(storageKey, reason string)

	// The memo provider evicted an entry under capacity pressure.
	Evicted(storageKey string)

	// Provider returned ok=false on Set (backpressure/admission).
	ProviderSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                 {}
func (NopHooks) Miss(string)                {}
func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) Evicted(string)             {}
func (NopHooks) ProviderSetRejected(string) {}
