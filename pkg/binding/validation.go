package binding

import (
	"fmt"
	"harnspoller/pkg/binding/ioconn"
	"harnspoller/pkg/binding/signal"
	"harnspoller/pkg/binding/transform"
	"harnspoller/pkg/binding/valuetype"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"reflect"
	"strings"
)

// Validate checks a whole generation before anything is activated.
func Validate(cfg *Config, registry *transform.Registry) field.ErrorList {
	var allErrs field.ErrorList
	if cfg == nil {
		return field.ErrorList{field.Required(field.NewPath("config"), "")}
	}

	slaves := make(map[string]SlaveConfig, len(cfg.Slaves))
	slavesPath := field.NewPath("slaves")
	names := sets.New[string]()
	type resolved struct {
		name string
		ep   endpoint.Endpoint
		cfg  endpoint.PoolConfiguration
	}
	endpoints := make(map[endpoint.Key]resolved)
	for i, s := range cfg.Slaves {
		path := slavesPath.Index(i)
		allErrs = append(allErrs, runtime.ValidateName(path.Child("name"), s.Name)...)
		if names.Has(s.Name) {
			allErrs = append(allErrs, field.Duplicate(path.Child("name"), s.Name))
		}
		names.Insert(s.Name)
		slaves[s.Name] = s

		allErrs = append(allErrs, runtime.ValidateSlaveType(path.Child("type"), strings.ToLower(s.Type))...)
		if s.ValueType != "" {
			allErrs = append(allErrs, runtime.ValidateValueType(path.Child("valueType"), strings.ToLower(s.ValueType))...)
		}
		if s.Length == 0 {
			allErrs = append(allErrs, field.Invalid(path.Child("length"), s.Length, "must be greater than 0"))
		} else if req, err := s.Request(); err == nil {
			if err = req.Validate(); err != nil {
				allErrs = append(allErrs, field.Invalid(path.Child("length"), s.Length, err.Error()))
			}
		}

		ep, poolCfg, err := s.Endpoint()
		if err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("connection"), s.Connection, err.Error()))
			continue
		}
		allErrs = append(allErrs, endpoint.Validate(ep, path.Child("connection"))...)
		allErrs = append(allErrs, poolCfg.Validate(path.Child("connection"))...)
		if prev, ok := endpoints[ep.Key()]; ok {
			if !reflect.DeepEqual(prev.ep, ep) || !reflect.DeepEqual(prev.cfg, poolCfg) {
				allErrs = append(allErrs, field.Invalid(path.Child("connection"), s.Connection,
					fmt.Sprintf("conflicts with slave %s on the same endpoint %s", prev.name, ep.Key())))
			}
		} else {
			endpoints[ep.Key()] = resolved{name: s.Name, ep: ep, cfg: poolCfg}
		}
	}

	itemsPath := field.NewPath("items")
	itemNames := sets.New[string]()
	for i, item := range cfg.Items {
		path := itemsPath.Index(i)
		allErrs = append(allErrs, runtime.ValidateName(path.Child("name"), item.Name)...)
		if itemNames.Has(item.Name) {
			allErrs = append(allErrs, field.Duplicate(path.Child("name"), item.Name))
		}
		itemNames.Insert(item.Name)
		if _, ok := signal.ParseItemType(item.Type); !ok {
			allErrs = append(allErrs, field.NotSupported(path.Child("type"), item.Type, itemTypes()))
		}

		conns, err := item.Connections()
		if err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("binding"), item.Binding, err.Error()))
			continue
		}
		if len(conns) == 0 {
			allErrs = append(allErrs, field.Required(path.Child("bindings"), "at least one binding is required"))
		}
		for j, c := range conns {
			allErrs = append(allErrs, validateConnection(c, slaves, registry, path.Child("bindings").Index(j))...)
		}
	}
	return allErrs
}

func validateConnection(c ConnectionConfig, slaves map[string]SlaveConfig, registry *transform.Registry, path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	slave, ok := slaves[c.Slave]
	if !ok {
		allErrs = append(allErrs, field.NotFound(path.Child("slave"), c.Slave))
	}
	if _, ok := parseDirection(c.Direction); !ok {
		allErrs = append(allErrs, field.NotSupported(path.Child("direction"), c.Direction, []string{"state", "command"}))
	}
	if c.Index < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("index"), c.Index, "must be greater than or equal to 0"))
	}
	vt := runtime.DefaultValueType
	if ok {
		vt = slave.EffectiveValueType()
	}
	if c.ValueType != "" && !strings.EqualFold(c.ValueType, ioconn.ValueTypeDefault) {
		errs := runtime.ValidateValueType(path.Child("valueType"), strings.ToLower(c.ValueType))
		allErrs = append(allErrs, errs...)
		if len(errs) == 0 {
			vt = runtime.StringToValueType[strings.ToLower(c.ValueType)]
		}
	}
	if registry != nil {
		if _, err := registry.Parse(c.Transformation); err != nil {
			allErrs = append(allErrs, field.Invalid(path.Child("transformation"), c.Transformation, err.Error()))
		}
	}
	if ok && c.Index >= 0 {
		t, _ := slave.SlaveType()
		capacity := int(slave.Length)
		if !t.Bits() {
			capacity = valuetype.Count(int(slave.Length), vt)
		}
		if c.Index >= capacity {
			allErrs = append(allErrs, field.Invalid(path.Child("index"), c.Index,
				fmt.Sprintf("slave %s holds %d values of type %s", slave.Name, capacity, vt)))
		}
	}
	return allErrs
}

func itemTypes() []string {
	out := make([]string, 0, len(signal.ItemTypeToString))
	for _, name := range signal.ItemTypeToString {
		out = append(out, name)
	}
	return sets.List(sets.New[string](out...))
}
