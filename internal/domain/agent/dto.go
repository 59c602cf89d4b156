package agent

// RegisterRequest for POST /admin/agents
type RegisterRequest struct {
	UserID              string `json:"user_id" validate:"required,uuid"`
	DisplayName         string `json:"display_name" validate:"required,min=2,max=120"`
	MaxTransactionLimit string `json:"max_transaction_limit" validate:"required,decimal_nonnegative"`
	AvailableCapacity   string `json:"available_capacity" validate:"omitempty,decimal_nonnegative"`
}

// LimitsRequest for PUT /admin/agents/{id}/limits
type LimitsRequest struct {
	MaxTransactionLimit *string `json:"max_transaction_limit" validate:"omitempty,decimal_nonnegative"`
	AvailableCapacity   *string `json:"available_capacity" validate:"omitempty,decimal_nonnegative"`
	IsActive            *bool   `json:"is_active"`
}

// QuoteResponse for GET /agents/{id}/quote
type QuoteResponse struct {
	TokenType string `json:"token_type"`
	Amount    string `json:"amount"`
	USD       string `json:"usd"`
}
