package services

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode"

	domain "github.com/lumen-studio/booking/internal/domain"
)

const (
	maxBookingMessageLength = 2000
	minAccountPasswordLen   = 6
	eventDateLayout         = "2006-01-02"
	eventTimeLayout         = "15:04"
)

// ErrBookingFormInvalid is wrapped by FormValidationError.
var ErrBookingFormInvalid = errors.New("booking form: invalid input")

// FormValidationError lists every offending field with a user-facing message.
type FormValidationError struct {
	Fields map[string]string
}

func (e *FormValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", ErrBookingFormInvalid.Error(), strings.Join(keys, ", "))
}

func (e *FormValidationError) Unwrap() error { return ErrBookingFormInvalid }

// ValidateBookingForm checks the form before any network call. Every service
// item needs an event date.
func ValidateBookingForm(form BookingFormData) error {
	fields := make(map[string]string)

	if strings.TrimSpace(form.Client.Name) == "" {
		fields["name"] = "name is required"
	}
	if email := strings.TrimSpace(form.Client.Email); email == "" {
		fields["email"] = "email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "email is invalid"
	}
	if phone := countDigits(form.Client.Phone); phone == 0 {
		fields["phone"] = "phone is required"
	} else if phone < 10 || phone > 13 {
		fields["phone"] = "phone is invalid"
	}
	if doc := strings.TrimSpace(form.Client.Document); doc != "" {
		if n := countDigits(doc); n != 11 && n != 14 {
			fields["document"] = "document must be a CPF or CNPJ"
		}
	}
	if form.CreateAccount {
		if len(form.Password) < minAccountPasswordLen {
			fields["password"] = fmt.Sprintf("password must have at least %d characters", minAccountPasswordLen)
		} else if form.Password != form.PasswordConfirm {
			fields["passwordConfirm"] = "passwords do not match"
		}
	}
	if !form.PaymentMethod.Valid() {
		fields["paymentMethod"] = "payment method is required"
	}
	if form.TravelCost.IsNegative() {
		fields["travelCost"] = "travel cost must not be negative"
	}
	if len([]rune(form.Message)) > maxBookingMessageLength {
		fields["message"] = fmt.Sprintf("message must be at most %d characters", maxBookingMessageLength)
	}
	for _, item := range form.CartItems {
		slot := form.Slots[item.ID]
		key := "slots." + item.ID
		if strings.TrimSpace(slot.Date) == "" {
			fields[key+".date"] = "event date is required"
			continue
		}
		if _, err := time.Parse(eventDateLayout, strings.TrimSpace(slot.Date)); err != nil {
			fields[key+".date"] = "event date must be YYYY-MM-DD"
		}
		if t := strings.TrimSpace(slot.Time); t != "" {
			if _, err := time.Parse(eventTimeLayout, t); err != nil {
				fields[key+".time"] = "event time must be HH:MM"
			}
		}
	}

	if len(fields) > 0 {
		return &FormValidationError{Fields: fields}
	}
	return nil
}

// PrimarySlot returns the slot of the first service item, which dates the contract.
func PrimarySlot(form BookingFormData) (LineItem, domain.EventSlot, bool) {
	for _, item := range form.CartItems {
		if slot, ok := form.Slots[item.ID]; ok && !slot.IsZero() {
			return item, slot, true
		}
	}
	return LineItem{}, domain.EventSlot{}, false
}

func countDigits(value string) int {
	n := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
