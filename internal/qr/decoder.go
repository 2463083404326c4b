// Package qr turns the text payload of a vehicle's printed code into a
// vehicle identifier. Extracting that payload from a camera frame happens on
// the rider's phone; only the payload reaches this service.
package qr

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/example/pmv-rental/internal/models"
)

const prefix = "PMV:"

// Lookup resolves a vehicle number to the registered identifier.
type Lookup interface {
	Lookup(id int) (models.VehicleID, error)
}

type CodeDecoder struct {
	Vehicles Lookup
}

func NewCodeDecoder(vehicles Lookup) *CodeDecoder {
	return &CodeDecoder{Vehicles: vehicles}
}

// Decode accepts payloads of the form "PMV:<vehicle number>".
func (d *CodeDecoder) Decode(image []byte) (models.VehicleID, error) {
	payload := bytes.TrimSpace(image)
	if len(payload) == 0 {
		return models.VehicleID{}, fmt.Errorf("%w: empty code", models.ErrImageDecode)
	}
	if !bytes.HasPrefix(payload, []byte(prefix)) {
		return models.VehicleID{}, fmt.Errorf("%w: unrecognised code", models.ErrImageDecode)
	}
	id, err := strconv.Atoi(string(payload[len(prefix):]))
	if err != nil || id <= 0 {
		return models.VehicleID{}, fmt.Errorf("%w: bad vehicle number in code", models.ErrImageDecode)
	}
	return d.Vehicles.Lookup(id)
}

// Encode renders the payload printed on vehicle id.
func Encode(id models.VehicleID) []byte {
	return []byte(prefix + strconv.Itoa(id.ID()))
}
