package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/session"
)

func validEntry() fixture.Entry {
	return fixture.Entry{
		Index:      0,
		Operation:  "ec2.DescribeInstances",
		Service:    "ec2",
		Method:     "DescribeInstances",
		StatusCode: 200,
		Params:     json.RawMessage(`{"MaxResults":5}`),
		Response:   json.RawMessage(`{"Reservations":[{"Instances":[{"InstanceId":"i-1","CpuCredits":1.5,"Tags":null}]}]}`),
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidate_AcceptsRecordedEntries(t *testing.T) {
	v := newValidator(t)

	for _, codec := range []fixture.Codec{fixture.JSON, fixture.YAML} {
		data, err := codec.Encode(validEntry())
		require.NoError(t, err)
		assert.NoError(t, v.Validate(data, codec), "codec %s", codec.Ext())
	}

	failed := fixture.Entry{
		Index:      3,
		Operation:  "ec2.StopInstances",
		Service:    "ec2",
		Method:     "StopInstances",
		StatusCode: 403,
		Error:      &session.APIError{Code: "UnauthorizedOperation", Message: "denied", StatusCode: 403},
	}
	data, err := fixture.JSON.Encode(failed)
	require.NoError(t, err)
	assert.NoError(t, v.Validate(data, fixture.JSON))

	spaced := validEntry()
	spaced.Response = json.RawMessage(`{"Reservations": []}`)
	for _, codec := range []fixture.Codec{fixture.JSON, fixture.YAML} {
		data, err := codec.Encode(spaced)
		require.NoError(t, err)
		assert.NoError(t, v.Validate(data, codec), "verbatim body, codec %s", codec.Ext())
	}
}

func TestValidate_Rejects(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown field",
			doc:     `{"index":0,"operation":"ec2.X","service":"ec2","method":"X","status_code":200,"extra":true}`,
			wantErr: "schema",
		},
		{
			name:    "negative index",
			doc:     `{"index":-1,"operation":"ec2.X","service":"ec2","method":"X","status_code":200}`,
			wantErr: "schema",
		},
		{
			name:    "missing operation",
			doc:     `{"index":0,"service":"ec2","method":"X","status_code":200}`,
			wantErr: "schema",
		},
		{
			name:    "malformed operation",
			doc:     `{"index":0,"operation":"DescribeInstances","service":"ec2","method":"X","status_code":200}`,
			wantErr: "schema",
		},
		{
			name:    "operation mismatch",
			doc:     `{"index":0,"operation":"ec2.Y","service":"ec2","method":"X","status_code":200}`,
			wantErr: "does not match",
		},
		{
			name:    "response and error",
			doc:     `{"index":0,"operation":"ec2.X","service":"ec2","method":"X","status_code":400,"response":{},"error":{"code":"Bad","message":"m","status_code":400}}`,
			wantErr: "both a response and an error",
		},
		{
			name:    "verbatim response and error",
			doc:     `{"index":0,"operation":"ec2.X","service":"ec2","method":"X","status_code":400,"response_raw":"{ }","error":{"code":"Bad","message":"m","status_code":400}}`,
			wantErr: "both a response and an error",
		},
		{
			name:    "not json",
			doc:     `{"index":`,
			wantErr: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.doc), fixture.JSON)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateIndex(t *testing.T) {
	assert.NoError(t, ValidateIndex(nil))
	assert.NoError(t, ValidateIndex([]int{0, 1, 2}))

	err := ValidateIndex([]int{0, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1, found 2")

	assert.Error(t, ValidateIndex([]int{1}))
}
