package plots

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agrogestion/plots/pkg/yield"
)

// ErrorKind is the machine-readable error code returned to callers.
type ErrorKind string

const (
	KindPlotNotFound          ErrorKind = "PlotNotFound"
	KindIllegalTransition     ErrorKind = "IllegalTransition"
	KindStaleProposal         ErrorKind = "StaleProposal"
	KindRestPeriodNotElapsed  ErrorKind = "RestPeriodNotElapsed"
	KindJustificationRequired ErrorKind = "JustificationRequired"
	KindUnsupportedUnit       ErrorKind = "UnsupportedUnit"
	KindInvalidQuantity       ErrorKind = "InvalidQuantity"
	KindInvalidRequest        ErrorKind = "InvalidRequest"
	KindForbidden             ErrorKind = "Forbidden"
	KindHarvestNotFound       ErrorKind = "HarvestNotFound"
)

// Sentinels for errors.Is. Only the kind is compared.
var (
	ErrPlotNotFound          = &Error{Kind: KindPlotNotFound}
	ErrIllegalTransition     = &Error{Kind: KindIllegalTransition}
	ErrStaleProposal         = &Error{Kind: KindStaleProposal}
	ErrRestPeriodNotElapsed  = &Error{Kind: KindRestPeriodNotElapsed}
	ErrJustificationRequired = &Error{Kind: KindJustificationRequired}
	ErrUnsupportedUnit       = &Error{Kind: KindUnsupportedUnit}
	ErrInvalidQuantity       = &Error{Kind: KindInvalidQuantity}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrHarvestNotFound       = &Error{Kind: KindHarvestNotFound}
)

// Error is a domain error carrying the plot and attempted transition.
type Error struct {
	Kind    ErrorKind `json:"error"`
	PlotID  string    `json:"plotId,omitempty"`
	From    State     `json:"from,omitempty"`
	To      State     `json:"to,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of a domain error, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindPlotNotFound, KindHarvestNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func plotNotFound(plotID string) *Error {
	return &Error{Kind: KindPlotNotFound, PlotID: plotID, Message: fmt.Sprintf("plot %s not found", plotID)}
}

func illegalTransition(plotID string, from, to State, msg string) *Error {
	return &Error{Kind: KindIllegalTransition, PlotID: plotID, From: from, To: to, Message: msg}
}

func staleProposal(plotID string, from, to State, msg string) *Error {
	return &Error{Kind: KindStaleProposal, PlotID: plotID, From: from, To: to, Message: msg}
}

func harvestNotFound(plotID, harvestID string) *Error {
	return &Error{Kind: KindHarvestNotFound, PlotID: plotID, Message: fmt.Sprintf("harvest %s not found", harvestID)}
}

func invalidRequest(plotID, msg string) *Error {
	return &Error{Kind: KindInvalidRequest, PlotID: plotID, Message: msg}
}

func invalidQuantity(plotID, msg string) *Error {
	return &Error{Kind: KindInvalidQuantity, PlotID: plotID, Message: msg}
}

func forbidden(plotID, msg string) *Error {
	return &Error{Kind: KindForbidden, PlotID: plotID, Message: msg}
}

// fromYieldError converts yield calculator errors into domain errors.
func fromYieldError(plotID string, err error) error {
	switch {
	case errors.Is(err, yield.ErrUnsupportedUnit):
		return &Error{Kind: KindUnsupportedUnit, PlotID: plotID, Message: err.Error(), Err: err}
	case errors.Is(err, yield.ErrInvalidQuantity):
		return &Error{Kind: KindInvalidQuantity, PlotID: plotID, Message: err.Error(), Err: err}
	default:
		return err
	}
}
