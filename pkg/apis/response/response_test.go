package response

import (
	"encoding/json"
	stderrors "errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestMultiErrorJSON(t *testing.T) {
	cause := stderrors.New("Connection refused")
	me := NewMultiError(ErrResourceNotFound("item lamp"), ErrTransaction(cause))

	data, err := json.Marshal(me)
	require.NoError(t, err)
	assert.JSONEq(t, `{"errors":[
		{"code":10003,"message":"item lamp not found."},
		{"code":10005,"message":"Modbus transaction failed: Connection refused"}]}`, string(data))

	var decoded MultiError
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Errors(), 2)
	assert.Equal(t, "10003: item lamp not found.", decoded.Errors()[0].Error())
	assert.Equal(t, "10003: item lamp not found.; 10005: Modbus transaction failed: Connection refused", me.Error())
}

func TestWrappedCause(t *testing.T) {
	cause := stderrors.New("Command not accepted")

	err := ErrCommandRejected("50", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `Command "50" rejected: Command not accepted`, err.Message)
	assert.Equal(t, ErrCodeCommandRejected, err.Code)
}
