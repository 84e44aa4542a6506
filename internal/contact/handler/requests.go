package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"

	"coalesce/internal/contact/models"
	pkgerrors "coalesce/pkg/domain-errors"
)

// IdentifyRequest is the wire shape of POST /identify. Clients historically
// send phoneNumber as either a JSON string or a JSON number, so the field
// decodes both.
type IdentifyRequest struct {
	Email       string     `json:"email"`
	PhoneNumber PhoneField `json:"phoneNumber"`
}

// PhoneField accepts a JSON string or integer number and remembers which form
// arrived: string input must look like a phone number (10-15 digits), while
// numeric input is taken as-is.
type PhoneField struct {
	value      string
	fromNumber bool
}

func (p *PhoneField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = PhoneField{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneField{value: strings.TrimSpace(s)}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number: %w", err)
	}
	raw := n.String()
	if strings.ContainsAny(raw, ".eE") || strings.HasPrefix(raw, "-") {
		return fmt.Errorf("phoneNumber must be a positive integer, got %s", raw)
	}
	*p = PhoneField{value: raw, fromNumber: true}
	return nil
}

const (
	phoneMinDigits = 10
	phoneMaxDigits = 15
)

// Normalize validates the request and produces the engine's submission:
// email lowercased and trimmed, empty strings mapped to absent, at least one
// field required. Normalization lives here so the core never sees raw input.
func (r IdentifyRequest) Normalize() (models.Submission, error) {
	var sub models.Submission

	email := strings.ToLower(strings.TrimSpace(r.Email))
	if email != "" {
		if !govalidator.IsEmail(email) {
			return sub, pkgerrors.New(pkgerrors.CodeBadRequest, "email is not a valid address")
		}
		sub.Email = &email
	}

	phone := r.PhoneNumber.value
	if phone != "" {
		if !isDigits(phone) {
			return sub, pkgerrors.New(pkgerrors.CodeBadRequest, "phoneNumber must contain only digits")
		}
		// Length bounds apply to string input only; numeric input keeps the
		// legacy lenient behavior.
		if !r.PhoneNumber.fromNumber && (len(phone) < phoneMinDigits || len(phone) > phoneMaxDigits) {
			return sub, pkgerrors.New(pkgerrors.CodeBadRequest,
				fmt.Sprintf("phoneNumber must be %d-%d digits", phoneMinDigits, phoneMaxDigits))
		}
		sub.PhoneNumber = &phone
	}

	if sub.Empty() {
		return sub, pkgerrors.New(pkgerrors.CodeBadRequest, "at least one of email or phoneNumber must be provided")
	}
	return sub, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
