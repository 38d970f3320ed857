package generalrule

import (
	"context"
	"fmt"
)

// Property keys persisted in the properties store.
const (
	KeyAppListHash    = "last_opened_app_list_hash"
	KeyRuleHash       = "last_opened_rule_hash"
	KeySelectedRuleID = "selected_rule_id"
)

// AppProperties holds the hashes recorded after the last completed pass.
// An empty hash means "never recorded".
type AppProperties struct {
	LastOpenedAppListHash string
	LastOpenedRuleHash    string
}

// PropertiesStore persists AppProperties and the rule selection across
// process lifetimes.
type PropertiesStore interface {
	Properties(ctx context.Context) (AppProperties, error)
	SetAppListHash(ctx context.Context, hash string) error
	SetRuleHash(ctx context.Context, hash string) error
	SelectedRuleID(ctx context.Context) (*string, error)
	SetSelectedRuleID(ctx context.Context, id *string) error
}

// KV is a string key-value store.
type KV interface {
	Property(ctx context.Context, key string) (string, bool, error)
	SetProperty(ctx context.Context, key, value string) error
}

// KVProperties implements PropertiesStore on top of a KV.
type KVProperties struct {
	kv            KV
	initialRuleID *string
}

// NewKVProperties returns a PropertiesStore over kv. initialRuleID is the
// selection reported before any selection was ever stored; empty means none.
func NewKVProperties(kv KV, initialRuleID string) *KVProperties {
	p := &KVProperties{kv: kv}
	if initialRuleID != "" {
		p.initialRuleID = &initialRuleID
	}
	return p
}

// Properties returns the stored hashes.
func (p *KVProperties) Properties(ctx context.Context) (AppProperties, error) {
	var props AppProperties
	var err error
	if props.LastOpenedAppListHash, _, err = p.kv.Property(ctx, KeyAppListHash); err != nil {
		return props, fmt.Errorf("properties: %w", err)
	}
	if props.LastOpenedRuleHash, _, err = p.kv.Property(ctx, KeyRuleHash); err != nil {
		return props, fmt.Errorf("properties: %w", err)
	}
	return props, nil
}

// SetAppListHash records the app list hash.
func (p *KVProperties) SetAppListHash(ctx context.Context, hash string) error {
	return p.kv.SetProperty(ctx, KeyAppListHash, hash)
}

// SetRuleHash records the rule set hash.
func (p *KVProperties) SetRuleHash(ctx context.Context, hash string) error {
	return p.kv.SetProperty(ctx, KeyRuleHash, hash)
}

// SelectedRuleID returns the stored selection. A stored empty value means
// the selection was cleared explicitly.
func (p *KVProperties) SelectedRuleID(ctx context.Context) (*string, error) {
	v, ok, err := p.kv.Property(ctx, KeySelectedRuleID)
	if err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	if !ok {
		return cloneID(p.initialRuleID), nil
	}
	if v == "" {
		return nil, nil
	}
	return &v, nil
}

// SetSelectedRuleID stores the selection; nil clears it.
func (p *KVProperties) SetSelectedRuleID(ctx context.Context, id *string) error {
	v := ""
	if id != nil {
		v = *id
	}
	return p.kv.SetProperty(ctx, KeySelectedRuleID, v)
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
