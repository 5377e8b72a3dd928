package audit

import (
	"strings"
)

// pathSegments splits a URL path into its non-empty segments.
func pathSegments(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// plotCollectionViews are /plots/{name} segments that are listings, not ids.
var plotCollectionViews = map[string]bool{
	"attention":         true,
	"ready-for-sowing":  true,
	"ready-for-harvest": true,
}

// extractResourceType returns the resource a request acts on: "plots",
// "transitions", "harvests", "reports", "crops" or "".
//
//	/api/plots/v1/plots/{id}/state/confirm   -> transitions
//	/api/plots/v1/plots/{id}/harvest         -> harvests
//	/api/plots/v1/plots/{id}/release         -> plots
func extractResourceType(path string) string {
	parts := pathSegments(path)
	n := len(parts)
	if n >= 2 && (parts[n-2] == "state" || parts[n-1] == "propose") {
		return "transitions"
	}
	for _, p := range parts {
		if p == "harvest" || p == "harvests" {
			return "harvests"
		}
	}
	for _, p := range parts {
		switch p {
		case "plots", "reports", "crops":
			return p
		}
	}
	return ""
}

// extractResourceIDs returns the plot id and, for harvest routes, the
// harvest id found in the path.
func extractResourceIDs(path string) []string {
	parts := pathSegments(path)
	var ids []string
	for i, p := range parts {
		if i+1 >= len(parts) {
			break
		}
		switch p {
		case "plots":
			if !plotCollectionViews[parts[i+1]] {
				ids = append(ids, parts[i+1])
			}
		case "harvests":
			ids = append(ids, parts[i+1])
		}
	}
	return ids
}

// extractPlotID returns the plot id in the path, if any.
func extractPlotID(path string) string {
	parts := pathSegments(path)
	for i, p := range parts {
		if p == "plots" && i+1 < len(parts) && !plotCollectionViews[parts[i+1]] {
			return parts[i+1]
		}
	}
	return ""
}

// extractActionVerb returns a human-readable action name from the HTTP method and path.
func extractActionVerb(method, path string) string {
	parts := pathSegments(path)
	n := len(parts)
	if n >= 2 {
		switch parts[n-2] + "/" + parts[n-1] {
		case "state/propose":
			return "propose"
		case "state/confirm":
			return "confirm"
		case "state/cancel":
			return "cancel"
		case "sowing/propose":
			return "propose-sowing"
		case "harvest/propose":
			return "propose-harvest"
		}
	}
	if n >= 1 && method == "POST" {
		switch parts[n-1] {
		case "harvest":
			return "record-harvest"
		case "release":
			return "release"
		case "release-forced":
			return "release-forced"
		}
	}

	switch method {
	case "POST":
		return "create"
	case "PUT":
		return "update"
	case "PATCH":
		return "patch"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAuditedRequest reports whether a request should be recorded. Mutating
// methods are audited; reads and health probes are not.
func isAuditedRequest(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}
