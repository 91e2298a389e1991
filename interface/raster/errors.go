package raster

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when the service answers 404: one or more of the
// requested scene ids do not exist in the catalog.
type NotFoundError struct {
	Keys []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scene(s) not found in the catalog: %s", strings.Join(e.Keys, ", "))
}

// BadRequestError is returned when the service answers 400. Request holds the
// serialized payload that was rejected so the caller can inspect it.
type BadRequestError struct {
	Request string
	Message string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("%s\nrequest: %s", e.Message, e.Request)
}
