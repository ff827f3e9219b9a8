package admission

// Check names one guarded operation for the failure-policy table.
type Check string

const (
	CheckRateLimit           Check = "rate_limit"
	CheckQuota               Check = "quota"
	CheckKeyLookup           Check = "key_lookup"
	CheckCredentialSelection Check = "credential_selection"
)

// FailurePolicy decides what happens when the backing store for a check is
// unreachable.
type FailurePolicy int

const (
	// FailOpen admits the request: availability wins for throttling.
	FailOpen FailurePolicy = iota
	// FailClosed rejects the request: correctness wins for authorization
	// and routing.
	FailClosed
)

// failurePolicies is the single place the open/closed asymmetry lives.
// Key lookup and credential selection are enforced in their own services;
// the entries here keep the full table visible and testable.
var failurePolicies = map[Check]FailurePolicy{
	CheckRateLimit:           FailOpen,
	CheckQuota:               FailOpen,
	CheckKeyLookup:           FailClosed,
	CheckCredentialSelection: FailClosed,
}

// PolicyFor returns the failure policy for a check. Unknown checks fail
// closed.
func PolicyFor(c Check) FailurePolicy {
	if p, ok := failurePolicies[c]; ok {
		return p
	}
	return FailClosed
}
