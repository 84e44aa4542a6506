package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneFieldUnmarshal(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		want       string
		fromNumber bool
		wantErr    bool
	}{
		{name: "string phone", body: `{"phoneNumber":"1234567890"}`, want: "1234567890"},
		{name: "string with spaces trimmed", body: `{"phoneNumber":" 1234567890 "}`, want: "1234567890"},
		{name: "number phone", body: `{"phoneNumber":1234567890}`, want: "1234567890", fromNumber: true},
		{name: "large number phone", body: `{"phoneNumber":919191919191}`, want: "919191919191", fromNumber: true},
		{name: "null", body: `{"phoneNumber":null}`, want: ""},
		{name: "absent", body: `{}`, want: ""},
		{name: "float rejected", body: `{"phoneNumber":123.45}`, wantErr: true},
		{name: "negative rejected", body: `{"phoneNumber":-123456}`, wantErr: true},
		{name: "bool rejected", body: `{"phoneNumber":true}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req IdentifyRequest
			err := json.Unmarshal([]byte(tc.body), &req)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.PhoneNumber.value)
			assert.Equal(t, tc.fromNumber, req.PhoneNumber.fromNumber)
		})
	}
}

func TestIdentifyRequestNormalize(t *testing.T) {
	t.Run("lowercases and trims email", func(t *testing.T) {
		sub, err := IdentifyRequest{Email: "  A@X.COM "}.Normalize()
		require.NoError(t, err)
		require.NotNil(t, sub.Email)
		assert.Equal(t, "a@x.com", *sub.Email)
		assert.Nil(t, sub.PhoneNumber)
	})

	t.Run("empty strings become absent", func(t *testing.T) {
		_, err := IdentifyRequest{Email: "   ", PhoneNumber: PhoneField{}}.Normalize()
		require.Error(t, err)
	})

	t.Run("numeric phone skips length bounds", func(t *testing.T) {
		sub, err := IdentifyRequest{PhoneNumber: PhoneField{value: "123456", fromNumber: true}}.Normalize()
		require.NoError(t, err)
		require.NotNil(t, sub.PhoneNumber)
		assert.Equal(t, "123456", *sub.PhoneNumber)
	})

	t.Run("string phone enforces length bounds", func(t *testing.T) {
		_, err := IdentifyRequest{PhoneNumber: PhoneField{value: "123456"}}.Normalize()
		require.Error(t, err)

		_, err = IdentifyRequest{PhoneNumber: PhoneField{value: "1234567890123456"}}.Normalize()
		require.Error(t, err)
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := IdentifyRequest{Email: "nope"}.Normalize()
		require.Error(t, err)
	})

	t.Run("accepts either field alone", func(t *testing.T) {
		sub, err := IdentifyRequest{Email: "a@x.com"}.Normalize()
		require.NoError(t, err)
		assert.NotNil(t, sub.Email)

		sub, err = IdentifyRequest{PhoneNumber: PhoneField{value: "1234567890"}}.Normalize()
		require.NoError(t, err)
		assert.NotNil(t, sub.PhoneNumber)
	})
}
