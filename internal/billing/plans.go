package billing

import (
	"slices"

	"github.com/wuwenbin0122/lumina/internal/models"
)

var catalog = []models.Plan{
	{
		ID:          "starter",
		Name:        "Starter",
		Description: "Basic GPT-3.5, limited daily messages, community support.",
		Price:       models.PlanPrice{Monthly: "$0", Yearly: "$0"},
		PriceID:     models.PlanPrice{Monthly: "price_1S1bEOFTONXgzBpNrRAYJKMA", Yearly: "price_1S1bEOFTONXgzBpNrRAYJKMA"},
		ProductID:   "prod_SxWG4H8dxAkp77",
		Tokens:      25000,
		Features:    []string{"25,000 tokens/month", "Basic GPT-3.5 model", "Limited daily messages", "Community support"},
	},
	{
		ID:          "pro",
		Name:        "Pro",
		Description: "All GPT models, faster responses, email support.",
		Price:       models.PlanPrice{Monthly: "$10", Yearly: "$100"},
		PriceID:     models.PlanPrice{Monthly: "price_1S1bErFTONXgzBpNl7ZXkWsK", Yearly: "price_pro_yearly_placeholder"},
		ProductID:   "prod_SxWHZeyxoSz6Uj",
		Tokens:      150000,
		Features:    []string{"150,000 tokens/month", "All GPT models (including GPT-4)", "Faster responses", "Email support"},
		Recommended: true,
	},
	{
		ID:          "creator",
		Name:        "Creator",
		Description: "Conversation history, custom personas, file uploads, priority support.",
		Price:       models.PlanPrice{Monthly: "$25", Yearly: "$250"},
		PriceID:     models.PlanPrice{Monthly: "price_1S1bFiFTONXgzBpNVhvbqsj3", Yearly: "price_creator_yearly_placeholder"},
		ProductID:   "prod_SxWIRCOtQsl3t6",
		Tokens:      500000,
		Features:    []string{"500,000 tokens/month", "Full conversation history", "Custom personas", "File uploads", "Priority support"},
	},
	{
		ID:          "power",
		Name:        "Power",
		Description: "Extended context, web browsing, code generation, premium support.",
		Price:       models.PlanPrice{Monthly: "$50", Yearly: "$500"},
		PriceID:     models.PlanPrice{Monthly: "price_1S1bG5FTONXgzBpNDdoEhET5", Yearly: "price_power_yearly_placeholder"},
		ProductID:   "prod_SxWICkXqOPAZ11",
		Tokens:      1500000,
		Features:    []string{"1,500,000 tokens/month", "Extended context window", "Web browsing capabilities", "Advanced code generation", "Premium support"},
	},
	{
		// Enterprise is sold through a contact flow; its price id is never checked out directly.
		ID:          "enterprise",
		Name:        "Enterprise",
		Description: "Team collaboration, API access, analytics, dedicated support.",
		Price:       models.PlanPrice{Monthly: "Contact Us", Yearly: "Contact Us"},
		PriceID:     models.PlanPrice{Monthly: "price_1S1bH7FTONXgzBpNIMB8bEpe", Yearly: "price_1S1bH7FTONXgzBpNIMB8bEpe"},
		ProductID:   "prod_SxWJ5qcF0wFSS4",
		Tokens:      999999999,
		Features:    []string{"Unlimited tokens", "Team collaboration features", "Full API access", "Advanced analytics dashboard", "Dedicated support & onboarding"},
	},
}

// Plans returns a copy of the catalog in display order.
func Plans() []models.Plan {
	out := make([]models.Plan, len(catalog))
	for i, p := range catalog {
		p.Features = slices.Clone(p.Features)
		out[i] = p
	}
	return out
}

func PlanByID(id string) (models.Plan, bool) {
	for _, p := range Plans() {
		if p.ID == id {
			return p, true
		}
	}
	return models.Plan{}, false
}

// PlanByPriceID finds the plan owning a monthly or yearly price id.
func PlanByPriceID(priceID string) (models.Plan, bool) {
	if priceID == "" {
		return models.Plan{}, false
	}
	for _, p := range Plans() {
		if p.PriceID.Monthly == priceID || p.PriceID.Yearly == priceID {
			return p, true
		}
	}
	return models.Plan{}, false
}
