package flow

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// NormalizerFunc transforms a raw slot value before validation.
type NormalizerFunc func(value interface{}) interface{}

// ValidatorFunc accepts or rejects a normalized slot value. A non-nil error
// carries the user-visible rejection reason.
type ValidatorFunc func(value interface{}) error

// SlotProcessor resolves SlotConfig normalizer/validator names and applies
// them to incoming slot values. The built-in names below are always
// available; applications register domain validators on top.
type SlotProcessor struct {
	mu          sync.RWMutex
	slots       map[string]SlotConfig
	normalizers map[string]NormalizerFunc
	validators  map[string]ValidatorFunc
}

// NewSlotProcessor builds a processor over the configured slot map.
func NewSlotProcessor(slots map[string]SlotConfig) *SlotProcessor {
	p := &SlotProcessor{
		slots:       slots,
		normalizers: make(map[string]NormalizerFunc),
		validators:  make(map[string]ValidatorFunc),
	}

	p.normalizers["trim"] = func(v interface{}) interface{} {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return v
	}
	p.normalizers["lower"] = func(v interface{}) interface{} {
		if s, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(s))
		}
		return v
	}
	p.normalizers["upper"] = func(v interface{}) interface{} {
		if s, ok := v.(string); ok {
			return strings.ToUpper(strings.TrimSpace(s))
		}
		return v
	}

	p.validators["nonempty"] = func(v interface{}) error {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return fmt.Errorf("value must not be empty")
		}
		return nil
	}
	p.validators["number"] = func(v interface{}) error {
		switch n := v.(type) {
		case int, int64, float64:
			return nil
		case string:
			if _, err := strconv.ParseFloat(n, 64); err != nil {
				return fmt.Errorf("value must be a number")
			}
			return nil
		}
		return fmt.Errorf("value must be a number")
	}
	p.validators["boolean"] = func(v interface{}) error {
		switch b := v.(type) {
		case bool:
			return nil
		case string:
			switch strings.ToLower(b) {
			case "true", "false", "yes", "no":
				return nil
			}
		}
		return fmt.Errorf("value must be yes or no")
	}

	return p
}

// RegisterNormalizer installs a named normalizer.
func (p *SlotProcessor) RegisterNormalizer(name string, fn NormalizerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalizers[name] = fn
}

// RegisterValidator installs a named validator.
func (p *SlotProcessor) RegisterValidator(name string, fn ValidatorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators[name] = fn
}

// Process normalizes and validates a value for the named slot, using the
// slot's configuration plus an optional step-level validator override.
// Returns the normalized value, or the validation error.
func (p *SlotProcessor) Process(slotName string, value interface{}, stepValidator string) (interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cfg := p.slots[slotName]

	if cfg.Normalizer != "" {
		if fn, ok := p.normalizers[cfg.Normalizer]; ok {
			value = fn(value)
		}
	}

	for _, name := range []string{cfg.Validator, stepValidator} {
		if name == "" {
			continue
		}
		fn, ok := p.validators[name]
		if !ok {
			continue
		}
		if err := fn(value); err != nil {
			return value, err
		}
	}
	return value, nil
}

// HasValidator reports whether the named validator is registered.
func (p *SlotProcessor) HasValidator(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.validators[name]
	return ok
}
