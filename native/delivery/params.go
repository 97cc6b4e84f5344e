package delivery

import (
	"fmt"
)

// Params is the module configuration record. It is written exactly once by
// Initialize and mutated only through the owner-gated setters below.
type Params struct {
	Owner           [20]byte
	MinDeliveryTime int64
	Initialized     bool
}

// Clone returns a copy of the params record.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (e *Engine) requireParams() (*Params, error) {
	params, ok, err := e.state.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok || !params.Initialized {
		return nil, fmt.Errorf("%w: the module is not initialized", ErrInvalidState)
	}
	return params, nil
}

func (e *Engine) requireOwner(caller [20]byte) (*Params, error) {
	params, err := e.requireParams()
	if err != nil {
		return nil, err
	}
	if caller != params.Owner {
		return nil, ErrNotOwner
	}
	return params, nil
}

// Initialize bootstraps the module with its owner and the minimal delivery
// window. It can be called exactly once per deployed instance.
func (e *Engine) Initialize(owner [20]byte, minDeliveryTime int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	params, ok, err := e.state.ParamsGet()
	if err != nil {
		return err
	}
	if ok && params.Initialized {
		return fmt.Errorf("%w: the module has already been initialized", ErrAlreadyInitialized)
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("%w: the owner cannot be the zero address", ErrValidation)
	}
	if minDeliveryTime <= 0 {
		return fmt.Errorf("%w: the minimal delivery time must be greater than 0", ErrValidation)
	}
	return e.state.ParamsPut(&Params{
		Owner:           owner,
		MinDeliveryTime: minDeliveryTime,
		Initialized:     true,
	})
}

// SetMinDeliveryTime updates the smallest delivery window new offers may
// carry. Owner only.
func (e *Engine) SetMinDeliveryTime(caller [20]byte, minDeliveryTime int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if minDeliveryTime <= 0 {
		return fmt.Errorf("%w: the minimal delivery time must be greater than 0", ErrValidation)
	}
	params.MinDeliveryTime = minDeliveryTime
	return e.state.ParamsPut(params)
}

// SupportToken adds a payment token to the allowlist. Owner only; fails when
// the token is already supported. The ever-supported history set retains the
// token even after support is later withdrawn.
func (e *Engine) SupportToken(caller [20]byte, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	supported, err := e.state.TokenSupported(normalized)
	if err != nil {
		return err
	}
	if supported {
		return fmt.Errorf("%w: the token is already supported", ErrInvalidState)
	}
	return e.state.TokenSetSupported(normalized, true)
}

// StopSupportingToken removes a payment token from the allowlist. Owner only;
// fails when the token is not currently supported.
func (e *Engine) StopSupportingToken(caller [20]byte, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	supported, err := e.state.TokenSupported(normalized)
	if err != nil {
		return err
	}
	if !supported {
		return fmt.Errorf("%w: the token is not supported", ErrTokenNotSupported)
	}
	return e.state.TokenSetSupported(normalized, false)
}

// TransferOwnership hands module administration to a new owner address.
func (e *Engine) TransferOwnership(caller, newOwner [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: the new owner cannot be the zero address", ErrValidation)
	}
	params.Owner = newOwner
	return e.state.ParamsPut(params)
}

// Owner returns the current module owner.
func (e *Engine) Owner() ([20]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return [20]byte{}, errNilState
	}
	params, err := e.requireParams()
	if err != nil {
		return [20]byte{}, err
	}
	return params.Owner, nil
}

// MinDeliveryTime returns the smallest delivery window new offers may carry.
func (e *Engine) MinDeliveryTime() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	params, err := e.requireParams()
	if err != nil {
		return 0, err
	}
	return params.MinDeliveryTime, nil
}

// IsTokenSupported reports whether the token is currently allowlisted.
func (e *Engine) IsTokenSupported(token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return false, nil
	}
	return e.state.TokenSupported(normalized)
}

// HasTokenEverBeenSupported reports whether the token was allowlisted at any
// point, including tokens whose support was later withdrawn.
func (e *Engine) HasTokenEverBeenSupported(token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return false, nil
	}
	return e.state.TokenEverSupported(normalized)
}

// SupportedTokens returns the current allowlist.
func (e *Engine) SupportedTokens() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.SupportedTokens()
}
