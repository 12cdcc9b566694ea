package models

// PlanPrice holds one display value or price id per billing interval.
type PlanPrice struct {
	Monthly string `json:"monthly"`
	Yearly  string `json:"yearly"`
}

type Plan struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       PlanPrice `json:"price"`
	PriceID     PlanPrice `json:"price_id"`
	ProductID   string    `json:"product_id"`
	Tokens      int64     `json:"tokens"`
	Features    []string  `json:"features"`
	Recommended bool      `json:"recommended,omitempty"`
}
