package health

import (
	"context"
	"errors"
	"math/rand"

	"sendpilot/internal/session"
)

// ActivityResult reports which parts of the activity simulation took
// effect. Keeping an account "warm" is opportunistic; callers are free
// to discard the result.
type ActivityResult struct {
	MouseErr   error
	KeyErr     error
	VisibleErr error
}

// Err joins whatever failed, or nil when every step succeeded.
func (r ActivityResult) Err() error {
	return errors.Join(r.MouseErr, r.KeyErr, r.VisibleErr)
}

// SimulateActivity performs a small pointer move, a neutral keypress and a
// visibility override on the session's page. Each step is attempted even
// when an earlier one fails.
func SimulateActivity(ctx context.Context, p session.Page, rng *rand.Rand) ActivityResult {
	var res ActivityResult
	res.MouseErr = p.MoveMouse(ctx, 50+rng.Intn(400), 50+rng.Intn(400))
	res.KeyErr = p.PressKey(ctx, "Shift")
	res.VisibleErr = p.SetVisible(ctx, true)
	return res
}
