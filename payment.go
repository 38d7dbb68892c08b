package creditgate

import "context"

// OnPaymentSuccess consumes the payment gateway callback for a completed
// checkout. planName is matched case-insensitively.
func (e *Entitlements) OnPaymentSuccess(ctx context.Context, userID, planName string) (Record, error) {
	plan, err := ParsePlan(planName)
	if err != nil {
		return Record{}, err
	}

	rec, err := e.ChangePlan(ctx, userID, plan)
	if err != nil {
		e.logger.Error("payment succeeded but plan change failed",
			"user", userID,
			"plan", plan,
			"error", err,
		)
		return Record{}, err
	}
	return rec, nil
}
