package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twin-relay/pkg/event"
)

func TestDecode_Temperature(t *testing.T) {
	rec, err := Temperature.Decode([]byte(`{"status":"OK","temperature":21.5,"extra":1}`))
	require.NoError(t, err)

	assert.Equal(t, "temperature", rec.Schema)
	assert.Equal(t, []FieldValue{
		{Name: "status", Value: "OK"},
		{Name: "temperature", Value: 21.5},
	}, rec.Values)
	assert.Equal(t, map[string]any{"status": "OK", "temperature": 21.5}, rec.Map())
}

func TestDecode_PLC(t *testing.T) {
	payload := `{"input1":true,"input2":false,"input3":true,"input4":false,"input5":true,
		"input6":false,"input7":true,"input8":false,"input9":true,"input10":false}`

	rec, err := PLC.Decode([]byte(payload))
	require.NoError(t, err)
	require.Len(t, rec.Values, 10)
	assert.Equal(t, FieldValue{Name: "input1", Value: true}, rec.Values[0])
	assert.Equal(t, FieldValue{Name: "input10", Value: false}, rec.Values[9])
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{"status":`, ErrInvalidJSON},
		{"array", `[1,2]`, ErrInvalidJSON},
		{"missing temperature", `{"status":"OK"}`, ErrMissingField},
		{"null status", `{"status":null,"temperature":1}`, ErrMissingField},
		{"temperature as string", `{"status":"OK","temperature":"21.5"}`, ErrWrongType},
		{"status as number", `{"status":1,"temperature":21.5}`, ErrWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Temperature.Decode([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, event.ErrMalformed)
		})
	}
}

func TestDecode_EmptyStringIsKept(t *testing.T) {
	rec, err := Temperature.Decode([]byte(`{"status":"","temperature":21.5}`))
	require.NoError(t, err)
	assert.Equal(t, FieldValue{Name: "status", Value: ""}, rec.Values[0])
}

func TestDecode_DuplicateKeyLastWins(t *testing.T) {
	rec, err := Temperature.Decode([]byte(`{"status":"OK","temperature":1,"status":"BAD","temperature":2}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "BAD", "temperature": 2.0}, rec.Map())
}

func TestDecode_DuplicateKeyLastOccurrenceIsChecked(t *testing.T) {
	_, err := Temperature.Decode([]byte(`{"status":"OK","temperature":1,"temperature":"hot"}`))
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestDecode_PLCWrongType(t *testing.T) {
	_, err := PLC.Decode([]byte(`{"input1":1}`))
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestLookup(t *testing.T) {
	s, err := Lookup("plc")
	require.NoError(t, err)
	assert.Equal(t, "plc", s.Name)

	_, err = Lookup("humidity")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestFieldByPath(t *testing.T) {
	f, ok := Temperature.FieldByPath("/temperature")
	require.True(t, ok)
	assert.Equal(t, Number, f.Kind)

	_, ok = Temperature.FieldByPath("/humidity")
	assert.False(t, ok)
}
