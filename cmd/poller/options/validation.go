package options

import (
	"harnspoller/pkg/binding"
	"harnspoller/pkg/binding/transform"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"strconv"
)

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}

	var allErrs field.ErrorList
	if port, err := strconv.ParseUint(o.Port, 10, 16); err != nil || port == 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), o.Port, "must be a port number between 1 and 65535"))
	}
	if o.Wait.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("gracefulTimeout"), o.Wait, "must be greater than 0"))
	}
	if o.PollWorkers <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("pollWorkers"), o.PollWorkers, "must be greater than 0"))
	}
	if o.Retries < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("retries"), o.Retries, "must not be negative"))
	}
	if (len(o.CertFile) == 0) != (len(o.KeyFile) == 0) {
		allErrs = append(allErrs, field.Invalid(field.NewPath("certFile"), o.CertFile, "certFile and keyFile must be set together"))
	}
	allErrs = append(allErrs, o.Mqtt.Validate(field.NewPath("mqtt"))...)
	allErrs = append(allErrs, binding.Validate(o.BindingConfig(), transform.NewRegistry(o.TransformDir))...)

	for _, err := range allErrs {
		errs = append(errs, err)
	}
	return errs
}
