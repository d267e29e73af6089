package api

import (
	"errors"
	"net/http"

	"chdocs/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var template *domain.TemplateResolutionError
	var unknownCluster *domain.UnknownClusterError
	var conn *domain.NodeConnectionError
	var timeout *domain.VerificationTimeout

	switch {
	case errors.As(err, &notFound), errors.As(err, &unknownCluster):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &template):
		return http.StatusBadRequest
	case errors.As(err, &conn):
		return http.StatusBadGateway
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
