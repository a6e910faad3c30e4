package runtime

import (
	"k8s.io/apimachinery/pkg/util/validation/field"
	"regexp"
	"sort"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// ValidateName checks that name is present and safe to use as a topic or path segment.
func ValidateName(path *field.Path, name string) field.ErrorList {
	var allErrs field.ErrorList
	if len(name) == 0 {
		allErrs = append(allErrs, field.Required(path, ""))
	} else if !namePattern.MatchString(name) {
		allErrs = append(allErrs, field.Invalid(path, name, "must consist of letters, digits, '_' or '-'"))
	}
	return allErrs
}

func ValidateValueType(path *field.Path, name string) field.ErrorList {
	if _, ok := StringToValueType[name]; ok {
		return nil
	}
	return field.ErrorList{field.NotSupported(path, name, supported(ValueTypeToString))}
}

func ValidateSlaveType(path *field.Path, name string) field.ErrorList {
	if _, ok := StringToSlaveType[name]; ok {
		return nil
	}
	return field.ErrorList{field.NotSupported(path, name, supported(SlaveTypeToString))}
}

func supported[K comparable](m map[K]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
