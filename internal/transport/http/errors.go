package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError переводит доменную ошибку в HTTP-статус.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsInvalidCart(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrDeadLetterNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSettlementConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrProcessorFetchTimeout):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
