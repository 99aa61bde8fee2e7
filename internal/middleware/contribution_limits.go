package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Limits caps what a single backer can commit. Zero disables a limit.
type Limits struct {
	MaxPerContribution uint64
	MaxPerDay          uint64
}

// DailyTotalFunc returns what backer has committed since the start of the
// current UTC day, refunds excluded.
type DailyTotalFunc func(ctx context.Context, backer uuid.UUID) (uint64, error)

type peekedContribution struct {
	Amount uint64 `json:"amount"`
}

// ContributionLimits enforces Limits on contribution requests from the
// principal set by Authenticate. It reads the body to extract "amount" and
// then replaces r.Body so the handler can decode it again.
func ContributionLimits(limits Limits, dailyTotal DailyTotalFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limits.MaxPerContribution == 0 && limits.MaxPerDay == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek peekedContribution
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}

			if limits.MaxPerContribution > 0 && peek.Amount > limits.MaxPerContribution {
				http.Error(w, fmt.Sprintf(`{"error":"amount %d exceeds per-contribution limit %d"}`, peek.Amount, limits.MaxPerContribution), http.StatusForbidden)
				return
			}

			if limits.MaxPerDay > 0 && dailyTotal != nil {
				spent, err := dailyTotal(r.Context(), p.UserID)
				if err != nil {
					http.Error(w, `{"error":"failed to check daily total"}`, http.StatusInternalServerError)
					return
				}
				if spent > limits.MaxPerDay || peek.Amount > limits.MaxPerDay-spent {
					http.Error(w, fmt.Sprintf(`{"error":"daily total %d + amount %d exceeds daily limit %d"}`, spent, peek.Amount, limits.MaxPerDay), http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
