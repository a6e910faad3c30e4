package response

var errors = map[ErrCode]string{
	ErrCodeMalformedJSON:    "The JSON you provided was not well-formed or did not validate against our published format.",
	ErrCodeRequestBody:      "Request body error",
	ErrCodeResourceNotFound: "%s not found.",
	ErrCodeCommandRejected:  "Command %q rejected: %s",
	ErrCodeTransaction:      "Modbus transaction failed: %s",
	ErrCodeInvalidConfig:    "Invalid configuration: %s",
}

// !!! IMPORTANT PLEASE READ FIRST !!!
// You SHOULD add new code at the end of enum firstly.

var ErrRequestBody = &responseError{
	Code:    ErrCodeRequestBody,
	Message: errors[ErrCodeRequestBody],
}
