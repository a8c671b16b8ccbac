package tasks

import (
	"fmt"
	"time"

	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"ipms-mediator/internal/pkg/fhir_dto"
)

// rank orders the forward path of a lab order. Terminal failure states sit
// outside the path and can be reached from any non-terminal state.
var rank = map[string]int{
	constvars.FhirTaskStatusRequested: 0,
	constvars.FhirTaskStatusReceived:  1,
	constvars.FhirTaskStatusAccepted:  2,
	constvars.FhirTaskStatusCompleted: 3,
}

var failureStates = map[string]bool{
	constvars.FhirTaskStatusRejected:  true,
	constvars.FhirTaskStatusFailed:    true,
	constvars.FhirTaskStatusCancelled: true,
}

func IsKnownStatus(status string) bool {
	_, forward := rank[status]
	return forward || failureStates[status]
}

func IsTerminal(status string) bool {
	return status == constvars.FhirTaskStatusCompleted || failureStates[status]
}

// FindTask returns the single Task entry of bundle.
func FindTask(bundle *fhir_dto.FHIRBundle) (int, fhir_dto.Task, error) {
	if bundle == nil {
		return -1, fhir_dto.Task{}, exceptions.ErrResourceNotInBundle(nil, constvars.ResourceTask)
	}
	indexes := bundle.IndexesOf(constvars.ResourceTask)
	switch len(indexes) {
	case 0:
		return -1, fhir_dto.Task{}, exceptions.ErrResourceNotInBundle(nil, constvars.ResourceTask)
	case 1:
	default:
		return -1, fhir_dto.Task{}, exceptions.ErrBundleTaskCount(nil, len(indexes))
	}

	var task fhir_dto.Task
	if err := bundle.DecodeEntry(indexes[0], &task); err != nil {
		return -1, fhir_dto.Task{}, exceptions.ErrCannotParseJSON(err)
	}
	return indexes[0], task, nil
}

// GetTaskStatus reads the status of the bundle's Task. A bundle without
// exactly one readable Task yields an empty status.
func GetTaskStatus(bundle *fhir_dto.FHIRBundle) string {
	_, task, err := FindTask(bundle)
	if err != nil {
		return ""
	}
	return task.Status
}

// SetTaskStatus writes status unconditionally. Workflow steps use
// AdvanceTaskStatus, which refuses to move an order backwards.
func SetTaskStatus(bundle *fhir_dto.FHIRBundle, status string) error {
	if !IsKnownStatus(status) {
		return exceptions.ErrUnknownTaskStatus(nil, status)
	}
	index, _, err := FindTask(bundle)
	if err != nil {
		return err
	}
	return bundle.PatchEntry(index, map[string]interface{}{
		"status":       status,
		"lastModified": time.Now().UTC().Format(time.RFC3339),
	})
}

// AdvanceTaskStatus moves the Task forward to status. It reports false
// without error when the Task is already at status, which lets a redelivered
// message short-circuit. A move backwards, or out of a terminal state, is an
// error and leaves the bundle untouched.
func AdvanceTaskStatus(bundle *fhir_dto.FHIRBundle, status string) (bool, error) {
	if !IsKnownStatus(status) {
		return false, exceptions.ErrUnknownTaskStatus(nil, status)
	}
	_, task, err := FindTask(bundle)
	if err != nil {
		return false, err
	}

	current := task.Status
	if current == status {
		return false, nil
	}
	if !CanTransition(current, status) {
		return false, exceptions.ErrTaskStatusRegression(fmt.Errorf("%s -> %s", current, status), current, status)
	}
	if err := SetTaskStatus(bundle, status); err != nil {
		return false, err
	}
	return true, nil
}

// CanTransition reports whether from may move to to. An empty from is treated
// as a freshly created order.
func CanTransition(from, to string) bool {
	if from == "" {
		from = constvars.FhirTaskStatusRequested
	}
	if from == to {
		return true
	}
	if IsTerminal(from) {
		return false
	}
	if failureStates[to] {
		return true
	}
	fromRank, knownFrom := rank[from]
	toRank, knownTo := rank[to]
	return knownFrom && knownTo && toRank > fromRank
}
