package workflow

// NewExpenseLifecycle returns a state machine configured with the expense
// approval lifecycle, positioned at the given current state:
//
//	DRAFT -SUBMIT-> PENDING -APPROVE-> APPROVED
//	                        -REJECT--> REJECTED
//	                        -WITHDRAW> WITHDRAWN
//
// APPROVED, REJECTED and WITHDRAWN are terminal.
func NewExpenseLifecycle(current State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StateDraft).
		Permit(TriggerSubmit, StatePending)

	builder.Configure(StatePending).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerWithdraw, StateWithdrawn)

	return builder.Build(current)
}
