package model

import (
	"encoding/json"
	"fmt"
)

// EffectKind tags a law effect.
type EffectKind string

const (
	EffectStabilityModifier EffectKind = "stability_modifier"
	EffectResourceModifier  EffectKind = "resource_modifier"
	EffectTaxRate           EffectKind = "tax_rate"
)

// Effect is one consequence of an enacted law, applied by the tick process.
// The set of kinds is closed; decoding an unknown kind fails.
type Effect interface {
	Kind() EffectKind
	Validate() error
}

// StabilityModifier shifts territory stability each tick.
type StabilityModifier struct {
	Delta int `json:"delta"`
}

func (StabilityModifier) Kind() EffectKind { return EffectStabilityModifier }

func (e StabilityModifier) Validate() error {
	if e.Delta < -StabilityMax || e.Delta > StabilityMax {
		return fmt.Errorf("stability delta %d out of range", e.Delta)
	}
	return nil
}

// ResourceModifier scales production of one resource by Percent.
type ResourceModifier struct {
	Resource string `json:"resource"`
	Percent  int    `json:"percent"`
}

func (ResourceModifier) Kind() EffectKind { return EffectResourceModifier }

func (e ResourceModifier) Validate() error {
	if e.Resource == "" {
		return fmt.Errorf("resource modifier without resource")
	}
	if e.Percent < -100 || e.Percent > 500 {
		return fmt.Errorf("resource modifier percent %d out of range", e.Percent)
	}
	return nil
}

// TaxRate sets the market tax in percent.
type TaxRate struct {
	Percent int `json:"percent"`
}

func (TaxRate) Kind() EffectKind { return EffectTaxRate }

func (e TaxRate) Validate() error {
	if e.Percent < 0 || e.Percent > 100 {
		return fmt.Errorf("tax rate %d out of range", e.Percent)
	}
	return nil
}

type effectEnvelope struct {
	Kind EffectKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalEffects encodes effects as a JSON array of {kind, data} envelopes.
func MarshalEffects(effects []Effect) ([]byte, error) {
	envs := make([]effectEnvelope, 0, len(effects))
	for i, e := range effects {
		if e == nil {
			return nil, fmt.Errorf("effect[%d]: nil", i)
		}
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("effect[%d]: %w", i, err)
		}
		envs = append(envs, effectEnvelope{Kind: e.Kind(), Data: data})
	}
	return json.Marshal(envs)
}

// UnmarshalEffects decodes the output of MarshalEffects.
func UnmarshalEffects(data []byte) ([]Effect, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var envs []effectEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("unmarshal effects: %w", err)
	}
	effects := make([]Effect, 0, len(envs))
	for i, env := range envs {
		e, err := decodeEffect(env)
		if err != nil {
			return nil, fmt.Errorf("effect[%d]: %w", i, err)
		}
		effects = append(effects, e)
	}
	return effects, nil
}

func decodeEffect(env effectEnvelope) (Effect, error) {
	switch env.Kind {
	case EffectStabilityModifier:
		var e StabilityModifier
		err := json.Unmarshal(env.Data, &e)
		return e, err
	case EffectResourceModifier:
		var e ResourceModifier
		err := json.Unmarshal(env.Data, &e)
		return e, err
	case EffectTaxRate:
		var e TaxRate
		err := json.Unmarshal(env.Data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown effect kind %q", env.Kind)
	}
}

// Effects is a list of effects that encodes as {kind, data} envelopes.
type Effects []Effect

func (e Effects) MarshalJSON() ([]byte, error) {
	return MarshalEffects(e)
}

func (e *Effects) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = nil
		return nil
	}
	effects, err := UnmarshalEffects(data)
	if err != nil {
		return err
	}
	*e = effects
	return nil
}
