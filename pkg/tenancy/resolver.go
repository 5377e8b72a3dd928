package tenancy

import (
	"fmt"
	"net/http"
	"regexp"
)

const maxCompanyLen = 64

// companyRe accepts ids such as "42", "agro-sur" or "c_1f3a".
var companyRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]*[A-Za-z0-9])?$`)

// CompanyQueryParam is the query parameter name used for company resolution.
const CompanyQueryParam = "company"

// CompanyHeader is the HTTP header used for company resolution.
const CompanyHeader = "X-Company-ID"

// TenantResolver resolves the tenant context from an HTTP request.
type TenantResolver interface {
	Resolve(r *http.Request) (TenantContext, error)
}

// SingleTenantResolver always returns the default company.
type SingleTenantResolver struct{}

// Resolve always returns a TenantContext for DefaultCompany.
func (s SingleTenantResolver) Resolve(_ *http.Request) (TenantContext, error) {
	return TenantContext{CompanyID: DefaultCompany}, nil
}

// CompanyTenantResolver reads the company from the X-Company-ID header or the
// company query parameter. The header wins when both are present.
type CompanyTenantResolver struct{}

// Resolve extracts and validates the company id.
func (c CompanyTenantResolver) Resolve(r *http.Request) (TenantContext, error) {
	company := r.Header.Get(CompanyHeader)
	if company == "" {
		company = r.URL.Query().Get(CompanyQueryParam)
	}
	if company == "" {
		return TenantContext{}, fmt.Errorf("company is required (use the %s header or ?%s= query param)", CompanyHeader, CompanyQueryParam)
	}
	if err := ValidateCompany(company); err != nil {
		return TenantContext{}, err
	}
	return TenantContext{CompanyID: company}, nil
}

// ValidateCompany checks the company id format.
func ValidateCompany(company string) error {
	if len(company) > maxCompanyLen {
		return fmt.Errorf("company %q exceeds maximum length of %d characters", company, maxCompanyLen)
	}
	if !companyRe.MatchString(company) {
		return fmt.Errorf("company %q is invalid: use letters, digits, '-' or '_'", company)
	}
	return nil
}
