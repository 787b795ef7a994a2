package paymentgate

import (
	"context"
	"log"
	"net/http"
)

type ctxKey string

const claimCtxKey ctxKey = "paymentgate.claim"

// Middleware gates a handler on the presence of a payment claim, issuing a
// 402 challenge when absent. skillOf extracts the skill name being invoked
// so free skills can bypass the gate regardless of mode.
func (g *Gate) Middleware(skillOf func(*http.Request) string, logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[PaymentGate] ", log.LstdFlags)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skillOf != nil && IsFree(skillOf(r)) {
				next.ServeHTTP(w, r)
				return
			}

			admitted, challenge, err := g.Check(r)
			if err != nil {
				logger.Printf("failed to build payment challenge: %v", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !admitted {
				w.Header().Set("PAYMENT-REQUIRED", challenge)
				http.Error(w, "payment required", http.StatusPaymentRequired)
				return
			}

			ctx := r.Context()
			if header := r.Header.Get("x-payment"); header != "" {
				claim, err := DecodeClaim(header)
				if err != nil {
					logger.Printf("malformed x-payment header, proceeding without a recorded claim: %v", err)
				} else {
					ctx = context.WithValue(ctx, claimCtxKey, claim)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimFromContext retrieves the best-effort decoded Claim attached by
// Middleware, if any.
func ClaimFromContext(ctx context.Context) (Claim, bool) {
	claim, ok := ctx.Value(claimCtxKey).(Claim)
	return claim, ok
}
