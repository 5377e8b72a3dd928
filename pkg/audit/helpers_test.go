package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractResourceType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/plots/v1/plots", "plots"},
		{"/api/plots/v1/plots/p1/release", "plots"},
		{"/api/plots/v1/plots/p1/state/propose", "transitions"},
		{"/api/plots/v1/plots/p1/sowing/propose", "transitions"},
		{"/api/plots/v1/plots/p1/harvest/propose", "transitions"},
		{"/api/plots/v1/plots/p1/harvest", "harvests"},
		{"/api/plots/v1/plots/p1/harvests/h1", "harvests"},
		{"/api/plots/v1/reports/summary", "reports"},
		{"/healthz", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractResourceType(tt.path), tt.path)
	}
}

func TestExtractResourceIDs(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/api/plots/v1/plots", nil},
		{"/api/plots/v1/plots/attention", nil},
		{"/api/plots/v1/plots/p1/state/confirm", []string{"p1"}},
		{"/api/plots/v1/plots/p1/harvests/h1", []string{"p1", "h1"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractResourceIDs(tt.path), tt.path)
	}
	assert.Equal(t, "p1", extractPlotID("/api/plots/v1/plots/p1/release"))
	assert.Empty(t, extractPlotID("/api/plots/v1/plots/ready-for-harvest"))
}

func TestExtractActionVerb(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"POST", "/api/plots/v1/plots/p1/state/propose", "propose"},
		{"POST", "/api/plots/v1/plots/p1/state/confirm", "confirm"},
		{"POST", "/api/plots/v1/plots/p1/state/cancel", "cancel"},
		{"POST", "/api/plots/v1/plots/p1/sowing/propose", "propose-sowing"},
		{"POST", "/api/plots/v1/plots/p1/harvest/propose", "propose-harvest"},
		{"POST", "/api/plots/v1/plots/p1/harvest", "record-harvest"},
		{"POST", "/api/plots/v1/plots/p1/release", "release"},
		{"POST", "/api/plots/v1/plots/p1/release-forced", "release-forced"},
		{"POST", "/api/plots/v1/plots", "create"},
		{"DELETE", "/api/plots/v1/plots/p1/harvests/h1", "delete"},
		{"GET", "/api/plots/v1/plots", "get"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractActionVerb(tt.method, tt.path), tt.method+" "+tt.path)
	}
}

func TestIsAuditedRequest(t *testing.T) {
	assert.True(t, isAuditedRequest("POST", "/api/plots/v1/plots"))
	assert.True(t, isAuditedRequest("DELETE", "/api/plots/v1/plots/p1"))
	assert.False(t, isAuditedRequest("GET", "/api/plots/v1/plots"))
	assert.False(t, isAuditedRequest("POST", "/readyz"))
}
