package rates

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type Handler struct {
	provider Provider
}

func NewHandler(p Provider) *Handler {
	return &Handler{provider: p}
}

type RateResponse struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// Get handles GET /rates?from=NT&to=USD
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	if to == "" {
		to = USD
	}
	if from == "" {
		response.BadRequest(w, "from is required")
		return
	}

	rate, err := h.provider.GetRate(r.Context(), from, to)
	var unknown *ErrUnknownPair
	if errors.As(err, &unknown) {
		response.NotFound(w, unknown.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("from", from).Str("to", to).Msg("Rate lookup failed")
		response.Error(w, http.StatusBadGateway, "RATE_UNAVAILABLE", "Exchange rate is temporarily unavailable")
		return
	}

	response.OK(w, RateResponse{From: from, To: to, Rate: rate})
}
