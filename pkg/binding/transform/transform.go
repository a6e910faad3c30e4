package transform

import (
	"errors"
	"fmt"
	"harnspoller/pkg/binding/signal"
	"k8s.io/klog/v2"
	"regexp"
	"strings"
	"sync"
)

const Default = "default"

var ErrUnknownService = errors.New("Unknown transformation service")

var serviceExpr = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)\((.*)\)$`)

// Service turns input text into output text. arg is the text between the
// parentheses of NAME(arg).
type Service interface {
	Transform(arg, input string) (string, error)
}

type ServiceFunc func(arg, input string) (string, error)

func (f ServiceFunc) Transform(arg, input string) (string, error) {
	return f(arg, input)
}

// Registry resolves service names, case-insensitively.
type Registry struct {
	mu       *sync.RWMutex
	services map[string]Service
}

// NewRegistry returns a registry with the MAP service reading from dir.
func NewRegistry(dir string) *Registry {
	r := &Registry{mu: &sync.RWMutex{}, services: make(map[string]Service)}
	r.Register("MAP", NewMapService(dir))
	return r
}

func (r *Registry) Register(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[strings.ToUpper(name)] = svc
}

func (r *Registry) lookup(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[strings.ToUpper(name)]
	return svc, ok
}

type mode int8

const (
	identity mode = iota
	service
	constant
)

// Transformation is one of identity, a service call NAME(arg) or a constant.
type Transformation struct {
	mode     mode
	name     string
	arg      string
	text     string
	registry *Registry
}

var Identity = &Transformation{mode: identity, text: Default}

// Parse reads a transformation expression. Empty and "default" are identity,
// NAME(arg) calls a registered service, anything else is a constant output.
// A service unknown to the registry is an error.
func (r *Registry) Parse(expr string) (*Transformation, error) {
	s := strings.TrimSpace(expr)
	if s == "" || strings.EqualFold(s, Default) {
		return Identity, nil
	}
	if m := serviceExpr.FindStringSubmatch(s); m != nil {
		if _, ok := r.lookup(m[1]); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, m[1])
		}
		return &Transformation{mode: service, name: m[1], arg: m[2], text: s, registry: r}, nil
	}
	return &Transformation{mode: constant, text: s}, nil
}

func (t *Transformation) IsIdentity() bool {
	return t == nil || t.mode == identity
}

func (t *Transformation) String() string {
	if t == nil {
		return Default
	}
	return t.text
}

// Transform applies the transformation to input text.
func (t *Transformation) Transform(input string) (string, error) {
	if t == nil {
		return input, nil
	}
	switch t.mode {
	case identity:
		return input, nil
	case constant:
		return t.text, nil
	}
	svc, ok := t.registry.lookup(t.name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownService, t.name)
	}
	return svc.Transform(t.arg, input)
}

// TransformState transforms v and parses the output with the first accepted
// kind that understands it. It returns nil when the transformation fails or
// no kind accepts the output.
func (t *Transformation) TransformState(accepted []signal.Kind, v signal.Value) signal.Value {
	return t.apply(accepted, v)
}

// TransformCommand is TransformState for commands.
func (t *Transformation) TransformCommand(accepted []signal.Kind, v signal.Value) signal.Value {
	return t.apply(accepted, v)
}

func (t *Transformation) apply(accepted []signal.Kind, v signal.Value) signal.Value {
	out, err := t.Transform(v.String())
	if err != nil {
		klog.V(3).InfoS("Transformation failed", "transformation", t, "input", v, "err", err)
		return nil
	}
	parsed := signal.ParseFirst(accepted, out)
	if parsed == nil {
		klog.V(5).InfoS("Transformation output not accepted", "transformation", t, "input", v, "output", out, "accepted", accepted)
	}
	return parsed
}
