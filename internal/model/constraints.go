package model

import "encoding/json"

// Constraints bounds what a permission may do within its action. Known fields
// are validated strictly by the provider plugin; unknown keys are preserved in
// Extra and passed through opaquely so that newer plugins can consume
// constraint shapes this build does not know about.
type Constraints struct {
	// LLM constraints.
	AllowedModels   []string `json:"-"`
	MaxOutputTokens int      `json:"-"`
	AllowStreaming  *bool    `json:"-"`
	AllowTools      *bool    `json:"-"`

	// Email constraints.
	AllowedSenders []string `json:"-"`
	MaxRecipients  int      `json:"-"`

	// Extra holds unrecognized constraint keys verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// known constraint keys, split out so marshal and unmarshal cannot drift.
const (
	keyAllowedModels   = "allowedModels"
	keyMaxOutputTokens = "maxOutputTokens"
	keyAllowStreaming  = "allowStreaming"
	keyAllowTools      = "allowTools"
	keyAllowedSenders  = "allowedSenders"
	keyMaxRecipients   = "maxRecipients"
)

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return len(c.AllowedModels) == 0 && c.MaxOutputTokens == 0 &&
		c.AllowStreaming == nil && c.AllowTools == nil &&
		len(c.AllowedSenders) == 0 && c.MaxRecipients == 0 && len(c.Extra) == 0
}

// ModelAllowed reports whether model is permitted. An empty allow-list
// permits every model.
func (c Constraints) ModelAllowed(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// SenderAllowed reports whether the from address is permitted. An empty
// allow-list permits every sender.
func (c Constraints) SenderAllowed(from string) bool {
	if len(c.AllowedSenders) == 0 {
		return true
	}
	for _, s := range c.AllowedSenders {
		if s == from {
			return true
		}
	}
	return false
}

func (c Constraints) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+6)
	for k, v := range c.Extra {
		out[k] = v
	}
	put := func(key string, v interface{}) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}
	if len(c.AllowedModels) > 0 {
		if err := put(keyAllowedModels, c.AllowedModels); err != nil {
			return nil, err
		}
	}
	if c.MaxOutputTokens > 0 {
		if err := put(keyMaxOutputTokens, c.MaxOutputTokens); err != nil {
			return nil, err
		}
	}
	if c.AllowStreaming != nil {
		if err := put(keyAllowStreaming, *c.AllowStreaming); err != nil {
			return nil, err
		}
	}
	if c.AllowTools != nil {
		if err := put(keyAllowTools, *c.AllowTools); err != nil {
			return nil, err
		}
	}
	if len(c.AllowedSenders) > 0 {
		if err := put(keyAllowedSenders, c.AllowedSenders); err != nil {
			return nil, err
		}
	}
	if c.MaxRecipients > 0 {
		if err := put(keyMaxRecipients, c.MaxRecipients); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (c *Constraints) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Constraints{}
	for k, v := range raw {
		switch k {
		case keyAllowedModels:
			if err := json.Unmarshal(v, &c.AllowedModels); err != nil {
				return err
			}
		case keyMaxOutputTokens:
			if err := json.Unmarshal(v, &c.MaxOutputTokens); err != nil {
				return err
			}
		case keyAllowStreaming:
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			c.AllowStreaming = &b
		case keyAllowTools:
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			c.AllowTools = &b
		case keyAllowedSenders:
			if err := json.Unmarshal(v, &c.AllowedSenders); err != nil {
				return err
			}
		case keyMaxRecipients:
			if err := json.Unmarshal(v, &c.MaxRecipients); err != nil {
				return err
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[k] = v
		}
	}
	return nil
}
