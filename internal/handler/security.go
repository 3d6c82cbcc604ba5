package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/domain/auth"
)

// HeaderAPIKey carries staff credentials.
const HeaderAPIKey = "api_key"

type (
	customerKey struct{}
	staffKey    struct{}
)

func customerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(customerKey{}).(string)
	return id
}

func staffFromContext(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(staffKey{}).(*auth.APIKeyInfo)
	return info
}

// identify resolves an optional customer bearer token. A present but invalid
// token is rejected rather than silently treated as anonymous.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || h.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "unsupported authorization scheme")
			return
		}
		customerID, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), customerKey{}, customerID)
		ctx = zctx.With(ctx, zap.String("customer_id", customerID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireStaff admits requests carrying an API key with the staff scope.
func (h *Handler) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.staff(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), staffKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) staff(r *http.Request) (*auth.APIKeyInfo, error) {
	if info := staffFromContext(r.Context()); info != nil {
		return info, nil
	}
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return nil, auth.ErrUnauthorized
	}
	info, err := h.keys.Verify(r.Context(), key)
	if err != nil {
		return nil, err
	}
	if !info.HasScope(auth.ScopeStaff) {
		return nil, errForbidden
	}
	return info, nil
}

// authorizeCustomer lets the customer owning customerID or staff through.
func (h *Handler) authorizeCustomer(r *http.Request, customerID string) error {
	if subject := customerFromContext(r.Context()); subject != "" {
		if subject == customerID {
			return nil
		}
		if r.Header.Get(HeaderAPIKey) == "" {
			return errForbidden
		}
	}
	_, err := h.staff(r)
	return err
}
