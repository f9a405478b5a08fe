package oracle

import "fmt"

// Priority orders candidate orders within an instrument.
type Priority string

const (
	// PriorityTime takes the earliest placed orders first.
	PriorityTime Priority = "time"
	// PriorityPriceTime takes the best price first (highest buy, lowest
	// sell), breaking ties by placement.
	PriorityPriceTime Priority = "price-time"
)

// Pricing picks the execution price of a crossing pair.
type Pricing string

const (
	// PricingResting uses the price of the earlier placed order.
	PricingResting Pricing = "resting"
	PricingSell    Pricing = "sell"
	PricingBuy     Pricing = "buy"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityTime, PriorityPriceTime:
		return p, nil
	case "":
		return PriorityTime, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

func ParsePricing(s string) (Pricing, error) {
	switch p := Pricing(s); p {
	case PricingResting, PricingSell, PricingBuy:
		return p, nil
	case "":
		return PricingResting, nil
	}
	return "", fmt.Errorf("unknown pricing %q", s)
}
