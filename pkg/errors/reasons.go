package errors

// Reason narrows a Code down to the inventory rule that rejected the call.
type Reason string

const (
	ReasonInvalidInput             Reason = "invalid_input"
	ReasonNotFound                 Reason = "not_found"
	ReasonInsufficientStock        Reason = "insufficient_stock"
	ReasonLotRequired              Reason = "lot_required"
	ReasonLotNotFound              Reason = "lot_not_found"
	ReasonLotInsufficient          Reason = "lot_insufficient"
	ReasonWouldGoNegative          Reason = "would_go_negative"
	ReasonFolderClosed             Reason = "folder_closed"
	ReasonAlreadyResolved          Reason = "already_resolved"
	ReasonInsufficientStockForUndo Reason = "insufficient_stock_for_undo"
	ReasonPendingItemsExist        Reason = "pending_items_exist"
	ReasonInvalidTransition        Reason = "invalid_transition"
	ReasonCheckoutManaged          Reason = "checkout_managed"
	ReasonLockUnavailable          Reason = "lock_unavailable"
	ReasonCompensationFailed       Reason = "compensation_failed"
)

// Invalid builds a validation error tagged with ReasonInvalidInput.
func Invalid(message string, details map[string]any) *Error {
	err := New(CodeValidation, message).WithReason(ReasonInvalidInput)
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}

// Conflict builds a state-conflict error for the given reason.
func Conflict(reason Reason, message string, details map[string]any) *Error {
	err := New(CodeStateConflict, message).WithReason(reason)
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}

// NotFound builds a not-found error for the named resource.
func NotFound(reason Reason, message string) *Error {
	return New(CodeNotFound, message).WithReason(reason)
}
