package response

type ErrCode int

const (
	_                       ErrCode = 10000 + iota
	ErrCodeMalformedJSON            // 10001
	ErrCodeRequestBody              // 10002
	ErrCodeResourceNotFound         // 10003
	ErrCodeCommandRejected          // 10004
	ErrCodeTransaction              // 10005
	ErrCodeInvalidConfig            // 10006
)

// !!! IMPORTANT PLEASE READ FIRST !!!
// You SHOULD add new code at the end, and append comment of number
// Meanwhile, the corresponding error message SHOULD be appended in response.errors
// The order MUST be consistent between them
