// Package payment composes the SMS that pays for parking. The message is
// handed to the host messaging app; nothing is sent from here.
package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/vehicles"
)

// ErrMissingSelection is returned when the zone or the vehicle is not chosen.
var ErrMissingSelection = errors.New("select a zone and a vehicle before paying")

// Intent is an SMS-compose request.
type Intent struct {
	Number string `json:"number"`
	Body   string `json:"body"`
	URI    string `json:"uri"`
	Zone   string `json:"zone"`
}

// Compose builds the payment SMS for zone and vehicle. The body is the plate
// without whitespace and hyphens.
func Compose(zone *refdata.PayZone, vehicle *vehicles.Vehicle) (Intent, error) {
	if zone == nil || vehicle == nil {
		return Intent{}, ErrMissingSelection
	}
	number := strings.TrimSpace(zone.SMSNumber)
	if number == "" {
		return Intent{}, fmt.Errorf("%w: zone %s has no sms number", ErrMissingSelection, zone.ID)
	}
	body := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, vehicle.Plate)
	if body == "" {
		return Intent{}, fmt.Errorf("%w: vehicle has no plate", ErrMissingSelection)
	}
	return Intent{
		Number: number,
		Body:   body,
		URI:    "sms:" + number + "?body=" + url.QueryEscape(body),
		Zone:   zone.Label(),
	}, nil
}
