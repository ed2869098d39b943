package domain

// ActionType is the closed vocabulary for trade action categories.
var ActionTypes = map[string]bool{
	"tariff":        true,
	"quota":         true,
	"embargo":       true,
	"sanction":      true,
	"duty":          true,
	"exclusion":     true,
	"suspension":    true,
	"modification":  true,
	"investigation": true,
	"other":         true,
}

// Statuses enumerates the lifecycle states a trade action can be in.
var Statuses = map[string]bool{
	"active":     true,
	"expired":    true,
	"pending":    true,
	"superseded": true,
}

// TradeAction is a structured trade measure extracted from a bulletin.
type TradeAction struct {
	ID                string   `json:"id"`
	SourceEntryID     string   `json:"source_csms_id"`
	SourceURL         string   `json:"source_url"`
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	ActionType        string   `json:"action_type"`
	CountriesAffected []string `json:"countries_affected"`
	HSCodes           []string `json:"hs_codes"`
	EffectiveDate     string   `json:"effective_date,omitempty"`
	ExpirationDate    string   `json:"expiration_date,omitempty"`
	Status            string   `json:"status"`
	FederalAuthority  string   `json:"federal_authority,omitempty"`
	DutyRate          string   `json:"duty_rate,omitempty"`
	RawExcerpt        string   `json:"raw_excerpt"`
}
