package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/msageha/storebridge/internal/model"
)

// legacyFieldCount is the number of comma-separated fields in the positional form:
// id,paymentId,command,mcName,uuid,packageName,packagePrice,packagePriceCents,couponDiscount,couponName,requireOnline
const legacyFieldCount = 11

// MalformedEntryError reports a pending entry that neither decoder accepted.
type MalformedEntryError struct {
	Index     int
	Entry     string
	JSONErr   error
	LegacyErr error
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("pending[%d] unparseable: json: %v; legacy: %v", e.Index, e.JSONErr, e.LegacyErr)
}

func (e *MalformedEntryError) Unwrap() []error {
	return []error{e.JSONErr, e.LegacyErr}
}

// EncodeCommand returns the form written to the pending list.
func EncodeCommand(c model.Command) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode command %d: %w", c.ID, err)
	}
	return string(b), nil
}

// DecodeCommand reads an encoded pending entry, falling back to the legacy
// positional form when the entry is not a JSON object.
func DecodeCommand(entry string) (model.Command, error) {
	c, jsonErr := decodeJSON(entry)
	if jsonErr == nil {
		return c, nil
	}
	c, legacyErr := decodeLegacy(entry)
	if legacyErr == nil {
		return c, nil
	}
	return model.Command{}, &MalformedEntryError{Entry: entry, JSONErr: jsonErr, LegacyErr: legacyErr}
}

func decodeJSON(entry string) (model.Command, error) {
	var c model.Command
	if !strings.HasPrefix(strings.TrimSpace(entry), "{") {
		return c, errors.New("not a json object")
	}
	if err := json.Unmarshal([]byte(entry), &c); err != nil {
		return model.Command{}, err
	}
	return c, nil
}

// decodeLegacy parses the positional form. There is no escaping, so a comma
// inside command, packageName or couponName shifts every later field and the
// entry is rejected by the field count or a type check.
func decodeLegacy(entry string) (model.Command, error) {
	parts := strings.Split(entry, ",")
	if len(parts) != legacyFieldCount {
		return model.Command{}, fmt.Errorf("expected %d fields, got %d", legacyFieldCount, len(parts))
	}

	var c model.Command
	var err error
	if c.ID, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return model.Command{}, fmt.Errorf("id: %w", err)
	}
	c.PaymentID = parts[1]
	c.Command = parts[2]
	c.McName = optional(parts[3])
	c.UUID = optional(parts[4])
	c.PackageName = parts[5]
	if c.PackagePrice, err = strconv.ParseFloat(parts[6], 64); err != nil {
		return model.Command{}, fmt.Errorf("packagePrice: %w", err)
	}
	if c.PackagePriceCents, err = strconv.ParseInt(parts[7], 10, 64); err != nil {
		return model.Command{}, fmt.Errorf("packagePriceCents: %w", err)
	}
	if c.CouponDiscount, err = strconv.ParseFloat(parts[8], 64); err != nil {
		return model.Command{}, fmt.Errorf("couponDiscount: %w", err)
	}
	c.CouponName = optional(parts[9])
	if c.RequireOnline, err = strconv.ParseBool(parts[10]); err != nil {
		return model.Command{}, fmt.Errorf("requireOnline: %w", err)
	}
	return c, nil
}

func optional(s string) string {
	if s == "null" {
		return ""
	}
	return s
}
