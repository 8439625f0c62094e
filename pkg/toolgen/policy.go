package toolgen

// Policy carries per-operation dispatch overrides. Overrides are named
// exceptions for specific upstream quirks, keyed by operation name, and
// deliberately not generalized into pattern matching.
type Policy struct {
	// ForceTrailingSlash appends "/" to the assembled URL path even when
	// the template lacks it; one upstream route 404s without it.
	ForceTrailingSlash bool

	// ReformatUserList renders a user-array response as a numbered list
	// with re-invocation instructions instead of raw JSON.
	ReformatUserList bool

	// ProxySelection short-circuits the call when a proxy_user_id
	// argument is present: the session is updated and confirmed without
	// contacting the upstream.
	ProxySelection bool
}

// PolicyTable maps operation names to their overrides.
type PolicyTable map[string]Policy

// For returns the policy for an operation name, zero when none is set.
func (t PolicyTable) For(name string) Policy {
	return t[name]
}

// DefaultPolicies returns the shipped override set: the proxy-user listing
// operation gets the human-readable rendering and selection short-circuit,
// and the item search route keeps its trailing-slash workaround.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		"getProxyUsers": {ReformatUserList: true, ProxySelection: true},
		"searchItems":   {ForceTrailingSlash: true},
	}
}
