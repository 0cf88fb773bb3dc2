package httpapi

import (
	"errors"
	"net/http"

	"github.com/codewandler/inventory-es/core/es"
	"github.com/codewandler/inventory-es/internal/inventory"
	"github.com/codewandler/inventory-es/internal/inventory/command"
	"github.com/codewandler/inventory-es/internal/inventory/readmodel"
)

const (
	CodeOK          = "000"
	CodeNotFound    = "NOT_FOUND"
	CodeConcurrency = "CONCURRENCY"
	CodeDomain      = "DOMAIN"
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnknown     = "UNKNOWN"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// classify maps err onto a status and an error code. Messages of unknown
// errors are not exposed.
func classify(err error) (int, errorBody) {
	switch {
	case errors.Is(err, readmodel.ErrNotFound), errors.Is(err, es.ErrAggregateNotFound):
		return http.StatusNotFound, errorBody{CodeNotFound, "inventory item not found"}
	case errors.Is(err, es.ErrConcurrencyConflict):
		return http.StatusConflict, errorBody{CodeConcurrency, "inventory item was modified concurrently, reload and retry"}
	case errors.Is(err, inventory.ErrDomainRule):
		return http.StatusUnprocessableEntity, errorBody{CodeDomain, domainReason(err)}
	case errors.Is(err, errBadRequest), errors.Is(err, command.ErrInvalidCommand):
		return http.StatusBadRequest, errorBody{CodeBadRequest, err.Error()}
	}
	return http.StatusInternalServerError, errorBody{CodeUnknown, "internal error"}
}

func domainReason(err error) string {
	var de *inventory.DomainError
	if errors.As(err, &de) {
		return de.Reason
	}
	return err.Error()
}
