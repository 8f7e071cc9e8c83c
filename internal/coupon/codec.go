package coupon

import (
	"encoding/json"
	"time"
)

type couponJSON struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Kind      Kind            `json:"type"`
	Details   json.RawMessage `json:"details"`
	Tags      []string        `json:"tags,omitempty"`
	ExpiresAt *time.Time      `json:"expiration_date,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON renders the rule as a type discriminator plus details object.
func (c Coupon) MarshalJSON() ([]byte, error) {
	details := json.RawMessage(`{}`)
	if c.Rule != nil {
		raw, err := json.Marshal(c.Rule)
		if err != nil {
			return nil, err
		}
		details = raw
	}
	return json.Marshal(couponJSON{
		ID:        c.ID,
		Code:      c.Code,
		Kind:      c.Kind(),
		Details:   details,
		Tags:      c.Tags,
		ExpiresAt: c.ExpiresAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
}

// UnmarshalJSON decodes and validates the rule selected by the type field.
func (c *Coupon) UnmarshalJSON(data []byte) error {
	var raw couponJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseKind(string(raw.Kind))
	if err != nil {
		return err
	}
	rule, err := DecodeRule(kind, raw.Details)
	if err != nil {
		return err
	}
	*c = Coupon{
		ID:        raw.ID,
		Code:      raw.Code,
		Rule:      rule,
		Tags:      raw.Tags,
		ExpiresAt: raw.ExpiresAt,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}
