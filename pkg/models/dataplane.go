package models

import "errors"

// DataPlaneInstance is the record a data plane registers with the control
// plane so that transfers of the listed types are routed to it.
type DataPlaneInstance struct {
	ID                   string
	URL                  string
	AllowedSourceTypes   []string
	AllowedTransferTypes []string
	Properties           map[string]any
	LastActive           int64
}

// Validate checks the fields the control plane requires for registration.
func (d *DataPlaneInstance) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if len(d.AllowedSourceTypes) == 0 {
		errs = append(errs, errors.New("at least one allowed source type is required"))
	}
	if len(d.AllowedTransferTypes) == 0 {
		errs = append(errs, errors.New("at least one allowed transfer type is required"))
	}
	return errors.Join(errs...)
}

// IDResponse is the control plane's acknowledgement of a created resource.
type IDResponse struct {
	ID        string `json:"@id"`
	CreatedAt int64  `json:"https://w3id.org/edc/v0.0.1/ns/createdAt,omitempty"`
}
