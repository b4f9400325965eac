// Package optimizer implements the update rules used to train networks.
// The optimizer owns the learning-rate cell shared with the training loop:
// the loop reads and rewrites the rate through GetLR/SetLR while the update
// rule applies it to parameters.
package optimizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Optimizer applies one minibatch update to model parameters in place.
// Gradient slices must match the parameter slices in count and length.
type Optimizer interface {
	Update(params, grads [][]float32)
	GetLR() float64
	SetLR(lr float64)
	Name() string
}

// Names returns the valid update-function names in sorted order.
func Names() []string {
	names := []string{"sgd", "momentum", "nesterov_momentum", "adam"}
	sort.Strings(names)
	return names
}

// New creates the named update rule. kwargs carries optional tuning values
// (momentum for the momentum rules; beta1, beta2, epsilon for adam) parsed
// from the update_func_kwargs configuration string.
func New(name string, lr float64, kwargs map[string]string) (Optimizer, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}
	switch name {
	case "sgd":
		if err := checkKwargs(name, kwargs); err != nil {
			return nil, err
		}
		return &sgd{name: name, lr: lr}, nil
	case "momentum", "nesterov_momentum":
		if err := checkKwargs(name, kwargs, "momentum"); err != nil {
			return nil, err
		}
		momentum, err := floatKwarg(kwargs, "momentum", 0.9)
		if err != nil {
			return nil, err
		}
		return &sgd{name: name, lr: lr, momentum: momentum, nesterov: name == "nesterov_momentum"}, nil
	case "adam":
		if err := checkKwargs(name, kwargs, "beta1", "beta2", "epsilon"); err != nil {
			return nil, err
		}
		beta1, err := floatKwarg(kwargs, "beta1", 0.9)
		if err != nil {
			return nil, err
		}
		beta2, err := floatKwarg(kwargs, "beta2", 0.999)
		if err != nil {
			return nil, err
		}
		eps, err := floatKwarg(kwargs, "epsilon", 1e-8)
		if err != nil {
			return nil, err
		}
		return &adam{name: name, lr: lr, beta1: beta1, beta2: beta2, eps: eps}, nil
	default:
		return nil, fmt.Errorf("unknown update function %s (valid values: %v)", name, Names())
	}
}

func checkKwargs(name string, kwargs map[string]string, allowed ...string) error {
	for key := range kwargs {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unknown %s parameter %q", name, key)
		}
	}
	return nil
}

func floatKwarg(kwargs map[string]string, key string, def float64) (float64, error) {
	raw, ok := kwargs[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s must be a number, got %q", key, raw)
	}
	return v, nil
}

// sgd implements gradient descent with optional classical or Nesterov
// momentum, using the velocity formulation:
//
//	v = momentum*v - lr*grad
//	param += v                     (classical)
//	param += momentum*v - lr*grad  (nesterov)
type sgd struct {
	name       string
	lr         float64
	momentum   float64
	nesterov   bool
	velocities [][]float32
}

func (s *sgd) Name() string     { return s.name }
func (s *sgd) GetLR() float64   { return s.lr }
func (s *sgd) SetLR(lr float64) { s.lr = lr }

func (s *sgd) Update(params, grads [][]float32) {
	if s.momentum == 0 {
		for k, p := range params {
			g := grads[k]
			for i := range p {
				p[i] -= float32(s.lr * float64(g[i]))
			}
		}
		return
	}

	if s.velocities == nil {
		s.velocities = zerosLike(params)
	}
	for k, p := range params {
		g := grads[k]
		vel := s.velocities[k]
		for i := range p {
			v := s.momentum*float64(vel[i]) - s.lr*float64(g[i])
			vel[i] = float32(v)
			if s.nesterov {
				p[i] += float32(s.momentum*v - s.lr*float64(g[i]))
			} else {
				p[i] += float32(v)
			}
		}
	}
}

// adam implements the Adam rule with bias correction.
type adam struct {
	name  string
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	step int
	m    [][]float32
	v    [][]float32
}

func (a *adam) Name() string     { return a.name }
func (a *adam) GetLR() float64   { return a.lr }
func (a *adam) SetLR(lr float64) { a.lr = lr }

func (a *adam) Update(params, grads [][]float32) {
	if a.m == nil {
		a.m = zerosLike(params)
		a.v = zerosLike(params)
	}
	a.step++
	correction1 := 1 - math.Pow(a.beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.beta2, float64(a.step))

	for k, p := range params {
		g := grads[k]
		m, v := a.m[k], a.v[k]
		for i := range p {
			gi := float64(g[i])
			mi := a.beta1*float64(m[i]) + (1-a.beta1)*gi
			vi := a.beta2*float64(v[i]) + (1-a.beta2)*gi*gi
			m[i] = float32(mi)
			v[i] = float32(vi)
			p[i] -= float32(a.lr * (mi / correction1) / (math.Sqrt(vi/correction2) + a.eps))
		}
	}
}

func zerosLike(params [][]float32) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = make([]float32, len(p))
	}
	return out
}
