package cfg

import (
	"errors"
	"fmt"
)

// ErrAddressMismatch reports a replacement between different addresses.
var ErrAddressMismatch = errors.New("replacement must keep the instruction address")

// Replacer is implemented by every component that holds instruction nodes
// beyond a single step.
type Replacer interface {
	// ReplaceInstruction makes the component use replacement wherever it
	// used old.
	ReplaceInstruction(old, replacement *InstructionNode) error
}

// ReplacementChecker is implemented by replacers that can refuse a
// replacement. Every checker runs before any replacer is notified.
type ReplacementChecker interface {
	CheckReplacement(old, replacement *InstructionNode) error
}

// ReplacerRegistry broadcasts instruction replacements to its subscribers.
// Components register themselves when they are constructed.
type ReplacerRegistry struct {
	replacers []Replacer
}

// NewReplacerRegistry creates an empty registry.
func NewReplacerRegistry() *ReplacerRegistry {
	return &ReplacerRegistry{}
}

// Register subscribes r to replacements.
func (r *ReplacerRegistry) Register(replacer Replacer) {
	r.replacers = append(r.replacers, replacer)
}

// Len returns the number of subscribers.
func (r *ReplacerRegistry) Len() int {
	return len(r.replacers)
}

// ReplaceInstruction notifies every subscriber, in registration order, that
// replacement supersedes old. Errors from all subscribers are joined. A
// replacement refused by a ReplacementChecker reaches no subscriber.
func (r *ReplacerRegistry) ReplaceInstruction(old, replacement *InstructionNode) error {
	if old == replacement {
		return nil
	}
	if old.Address() != replacement.Address() {
		return fmt.Errorf("%w: 0x%05X -> 0x%05X", ErrAddressMismatch, old.Address(), replacement.Address())
	}

	var errs []error
	for _, replacer := range r.replacers {
		if checker, ok := replacer.(ReplacementChecker); ok {
			if err := checker.CheckReplacement(old, replacement); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, replacer := range r.replacers {
		if err := replacer.ReplaceInstruction(old, replacement); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
