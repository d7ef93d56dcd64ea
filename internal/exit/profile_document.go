package exit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

// ProfileDocument is the user-facing profile shape (REST JSON, YAML files).
// Trigger fields are fractions (-0.05 = -5%); custom rule threshold and
// exitPercent are percent-integers (7 = 7%), as the configuration UI writes them.
type ProfileDocument struct {
	ProfileID   string                `json:"profile_id" yaml:"profile_id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive    bool                  `json:"is_active" yaml:"is_active"`
	Config      ProfileConfigDocument `json:"config" yaml:"config"`
}

// ProfileConfigDocument mirrors contracts.ExitProfileConfig with percent-scale custom rules
type ProfileConfigDocument struct {
	Volatility   *contracts.VolatilityConfig `json:"volatility,omitempty" yaml:"volatility,omitempty"`
	ConfirmTicks int                         `json:"confirm_ticks,omitempty" yaml:"confirm_ticks,omitempty"`
	SL1          *contracts.TriggerConfig    `json:"sl1,omitempty" yaml:"sl1,omitempty"`
	SL2          *contracts.TriggerConfig    `json:"sl2,omitempty" yaml:"sl2,omitempty"`
	TP1          *contracts.TriggerConfig    `json:"tp1,omitempty" yaml:"tp1,omitempty"`
	TP2          *contracts.TriggerConfig    `json:"tp2,omitempty" yaml:"tp2,omitempty"`
	TP3          *contracts.TriggerConfig    `json:"tp3,omitempty" yaml:"tp3,omitempty"`
	Trailing     *contracts.TrailingConfig   `json:"trailing,omitempty" yaml:"trailing,omitempty"`
	TimeStop     *contracts.TimeStopConfig   `json:"time_stop,omitempty" yaml:"time_stop,omitempty"`
	HardStop     *contracts.HardStopConfig   `json:"hardstop,omitempty" yaml:"hardstop,omitempty"`
	CustomRules  []CustomRuleDocument        `json:"custom_rules,omitempty" yaml:"custom_rules,omitempty"`
}

// CustomRuleDocument UI 규칙 형식 (percent-integer)
type CustomRuleDocument struct {
	ID          string  `json:"id" yaml:"id"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Condition   string  `json:"condition" yaml:"condition"`
	Threshold   float64 `json:"threshold" yaml:"threshold"`     // 7 = +7%
	ExitPercent float64 `json:"exitPercent" yaml:"exitPercent"` // 20 = 잔량의 20%
	Priority    int     `json:"priority" yaml:"priority"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProfileFile is a YAML file holding several profiles
type ProfileFile struct {
	Profiles []ProfileDocument `yaml:"profiles"`
}

// NewProfileDocument converts the internal profile to the user-facing document
func NewProfileDocument(p *contracts.ExitProfile) *ProfileDocument {
	c := p.Config
	doc := &ProfileDocument{
		ProfileID:   p.ProfileID,
		Name:        p.Name,
		Description: p.Description,
		IsActive:    p.IsActive,
		Config: ProfileConfigDocument{
			Volatility:   c.Volatility,
			ConfirmTicks: c.ConfirmTicks,
			SL1:          c.SL1,
			SL2:          c.SL2,
			TP1:          c.TP1,
			TP2:          c.TP2,
			TP3:          c.TP3,
			Trailing:     c.Trailing,
			TimeStop:     c.TimeStop,
			HardStop:     c.HardStop,
		},
	}
	for _, r := range c.CustomRules {
		doc.Config.CustomRules = append(doc.Config.CustomRules, CustomRuleDocument{
			ID:          r.ID,
			Enabled:     r.Enabled,
			Condition:   string(r.Condition),
			Threshold:   contracts.FractionToPercent(r.ThresholdPct),
			ExitPercent: contracts.FractionToPercent(r.ExitPercent),
			Priority:    r.Priority,
			Description: r.Description,
		})
	}
	return doc
}

// ToProfile converts the document to the internal (fraction) scale and validates it
func (d *ProfileDocument) ToProfile() (*contracts.ExitProfile, error) {
	c := d.Config
	p := &contracts.ExitProfile{
		ProfileID:   d.ProfileID,
		Name:        d.Name,
		Description: d.Description,
		IsActive:    d.IsActive,
		Config: contracts.ExitProfileConfig{
			Volatility:   c.Volatility,
			ConfirmTicks: c.ConfirmTicks,
			SL1:          c.SL1,
			SL2:          c.SL2,
			TP1:          c.TP1,
			TP2:          c.TP2,
			TP3:          c.TP3,
			Trailing:     c.Trailing,
			TimeStop:     c.TimeStop,
			HardStop:     c.HardStop,
		},
	}
	for _, r := range c.CustomRules {
		p.Config.CustomRules = append(p.Config.CustomRules, contracts.CustomExitRule{
			ID:           r.ID,
			Enabled:      r.Enabled,
			Condition:    contracts.CustomCondition(r.Condition),
			ThresholdPct: contracts.PercentToFraction(r.Threshold),
			ExitPercent:  contracts.PercentToFraction(r.ExitPercent),
			Priority:     r.Priority,
			Description:  r.Description,
		})
	}
	if err := contracts.ValidateProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeProfileJSON decodes a single document, rejecting unknown fields
func DecodeProfileJSON(r io.Reader) (*contracts.ExitProfile, error) {
	var doc ProfileDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return doc.ToProfile()
}

// LoadProfilesYAML parses a profiles file.
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func LoadProfilesYAML(data []byte) ([]*contracts.ExitProfile, error) {
	var file ProfileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse profiles yaml: %w", err)
	}

	out := make([]*contracts.ExitProfile, 0, len(file.Profiles))
	for i := range file.Profiles {
		p, err := file.Profiles[i].ToProfile()
		if err != nil {
			return nil, fmt.Errorf("profiles[%d] (%s): %w", i, file.Profiles[i].ProfileID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// MarshalProfilesYAML renders profiles as a profiles file
func MarshalProfilesYAML(profiles []*contracts.ExitProfile) ([]byte, error) {
	file := ProfileFile{Profiles: make([]ProfileDocument, 0, len(profiles))}
	for _, p := range profiles {
		file.Profiles = append(file.Profiles, *NewProfileDocument(p))
	}
	return yaml.Marshal(&file)
}

// ProfileHash is the SHA256 of the canonical JSON of the profile config
func ProfileHash(p *contracts.ExitProfile) (string, error) {
	data, err := json.Marshal(p.Config)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
