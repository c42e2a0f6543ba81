// Package model defines the data structures for storebridge's configuration, queue payloads, and state files.
package model

import "fmt"

// Command is one purchase-triggered console instruction from the storefront queue.
//
// All fields are comparable, so two Commands are the same queue entry exactly
// when c1 == c2. The deferred set relies on this: a resent command with any
// field changed is a different entry.
type Command struct {
	ID                int64   `json:"id"`
	PaymentID         string  `json:"paymentId"`
	Command           string  `json:"command"`
	McName            string  `json:"mcName"`
	UUID              string  `json:"uuid"`
	PackageName       string  `json:"packageName"`
	PackagePrice      float64 `json:"packagePrice"`
	PackagePriceCents int64   `json:"packagePriceCents"`
	CouponDiscount    float64 `json:"couponDiscount"`
	CouponName        string  `json:"couponName"`
	RequireOnline     bool    `json:"requireOnline"`
}

// HasTarget reports whether the command is scoped to a named player.
func (c Command) HasTarget() bool {
	return c.McName != ""
}

func (c Command) String() string {
	target := "-"
	if c.HasTarget() {
		target = c.McName
	}
	return fmt.Sprintf("id=%d payment=%s target=%s require_online=%t package=%q command=%q",
		c.ID, c.PaymentID, target, c.RequireOnline, c.PackageName, c.Command)
}
