package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// OperationKind is the closed set of spatial operations.
type OperationKind string

// OpBufferContainment selects target features lying within a distance of any
// reference feature.
const OpBufferContainment OperationKind = "buffer_containment"

// OperationRequest is a validated, normalised analysis request.
type OperationRequest struct {
	Operation      OperationKind
	TargetLayer    string
	ReferenceLayer string
	Distance       float64
	Unit           Unit
}

// Validate checks the parameters that do not depend on the catalog.
func (r *OperationRequest) Validate() error {
	if r.Operation != OpBufferContainment {
		return &InterpretationError{
			Field:  "operation",
			Value:  r.Operation,
			Reason: "unsupported operation",
			Err:    ErrNoMatchingOperation,
		}
	}
	if !ValidDistance(r.Distance) {
		return &InterpretationError{
			Field:  "distance",
			Value:  r.Distance,
			Reason: "distance must be a finite number greater than zero",
			Err:    ErrInvalidDistance,
		}
	}
	if !r.Unit.IsValid() {
		return &InterpretationError{
			Field:  "unit",
			Value:  r.Unit,
			Reason: "unsupported unit",
			Err:    ErrInvalidUnit,
		}
	}
	return nil
}

// String renders the request for logs.
func (r OperationRequest) String() string {
	return fmt.Sprintf("%s(target=%s, reference=%s, distance=%g %s)",
		r.Operation, r.TargetLayer, r.ReferenceLayer, r.Distance, r.Unit)
}

// OperationResult is the outcome of executing an OperationRequest.
type OperationResult struct {
	MatchedFeatures []Feature        // Matches in target-layer order
	Buffer          orb.MultiPolygon // Approximation of the buffer region
	Count           int              // Always len(MatchedFeatures)
	Degrees         float64          // Working distance in degrees
}
