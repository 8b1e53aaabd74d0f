package instrumentation

import "strings"

// Label helpers that keep metric cardinality bounded. Use them for every
// label derived from caller input.

const unknownLabel = "unknown"

// ExtractUserDomain returns the lowercased domain of an email address, or
// "unknown".
//
//	ExtractUserDomain("Jane@Example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return unknownLabel
	}
	return strings.ToLower(domain)
}

// knownRoutes are the paths served by the MCP and metrics listeners.
var knownRoutes = map[string]bool{
	"/mcp":              true,
	"/sse":              true,
	"/message":          true,
	"/healthz":          true,
	"/readyz":           true,
	"/healthz/detailed": true,
	"/metrics":          true,
}

// RouteLabel maps a request path to itself when it is a known route and to
// "other" otherwise.
func RouteLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// EntitlementResult maps an entitlement check to its metric label.
func EntitlementResult(paid bool, err error) string {
	switch {
	case err != nil:
		return EntitlementError
	case paid:
		return EntitlementPaid
	default:
		return EntitlementUnpaid
	}
}
