package authz

import (
	"net/http"
	"strings"
)

// PlotsAPIPrefix is the base path of the plots API.
const PlotsAPIPrefix = "/api/plots/v1"

// ResourceMapping maps an HTTP request to a resource and verb for authorization.
type ResourceMapping struct {
	Resource string
	Verb     string
}

// UnknownMapping is returned when no known pattern matches the request.
// Callers should deny requests with this mapping by default.
var UnknownMapping = ResourceMapping{Resource: "", Verb: ""}

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")

	if strings.HasPrefix(path, "/api/audit/") {
		return mapAuditRoute(method)
	}

	if !strings.HasPrefix(path, PlotsAPIPrefix+"/") {
		return UnknownMapping
	}
	segments := strings.Split(strings.TrimPrefix(path, PlotsAPIPrefix+"/"), "/")

	switch segments[0] {
	case "plots":
		return mapPlotRoute(method, segments[1:])
	case "reports":
		if method == http.MethodGet {
			return ResourceMapping{Resource: ResourceReports, Verb: VerbGet}
		}
	case "crops":
		if method == http.MethodGet {
			return ResourceMapping{Resource: ResourceCrops, Verb: VerbList}
		}
	case "harvests":
		if method != http.MethodGet || len(segments) != 2 {
			break
		}
		if segments[1] == "recent" {
			return ResourceMapping{Resource: ResourceHarvests, Verb: VerbList}
		}
		return ResourceMapping{Resource: ResourceHarvests, Verb: VerbGet}
	case "yield":
		// Stateless calculations; nothing is written.
		if method == http.MethodPost && len(segments) == 2 {
			return ResourceMapping{Resource: ResourceReports, Verb: VerbGet}
		}
	}
	return UnknownMapping
}

// mapPlotRoute handles /plots/... with the "plots" segment already removed.
func mapPlotRoute(method string, rest []string) ResourceMapping {
	// Collection: /plots and the named listings.
	if len(rest) == 0 {
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbList}
		case http.MethodPost:
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbCreate}
		}
		return UnknownMapping
	}
	if len(rest) == 1 {
		switch rest[0] {
		case "attention", "ready-for-sowing", "ready-for-harvest":
			if method == http.MethodGet {
				return ResourceMapping{Resource: ResourcePlots, Verb: VerbList}
			}
			return UnknownMapping
		}
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbGet}
		case http.MethodDelete:
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbDelete}
		}
		return UnknownMapping
	}

	sub := strings.Join(rest[1:], "/")
	switch method {
	case http.MethodGet:
		switch {
		case sub == "harvests":
			return ResourceMapping{Resource: ResourceHarvests, Verb: VerbList}
		case sub == "harvests/latest":
			return ResourceMapping{Resource: ResourceHarvests, Verb: VerbGet}
		case sub == "can-release", sub == "rest-days", sub == "state/proposal",
			sub == "yield-comparison", sub == "transitions":
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbGet}
		}
	case http.MethodPost:
		switch sub {
		case "state/propose", "state/confirm", "state/cancel", "sowing/propose", "harvest/propose":
			return ResourceMapping{Resource: ResourceTransitions, Verb: VerbCreate}
		case "harvest":
			return ResourceMapping{Resource: ResourceHarvests, Verb: VerbCreate}
		case "release":
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbRelease}
		case "release-forced":
			return ResourceMapping{Resource: ResourcePlots, Verb: VerbForceRelease}
		}
	case http.MethodDelete:
		if len(rest) == 3 && rest[1] == "harvests" {
			return ResourceMapping{Resource: ResourceHarvests, Verb: VerbDelete}
		}
	}
	return UnknownMapping
}

// mapAuditRoute handles /api/audit/* routes.
func mapAuditRoute(method string) ResourceMapping {
	switch method {
	case http.MethodGet:
		return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
	default:
		return ResourceMapping{Resource: ResourceAudit, Verb: VerbGet}
	}
}
