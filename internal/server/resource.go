package server

import (
	"net/http"

	"github.com/sakif/tripcms/internal/auth"
)

// ResourcePolicy names the operation that guards each mutating method of a
// mounted resource. A blank operation denies that method to every role.
type ResourcePolicy struct {
	Create auth.Operation // POST
	Update auth.Operation // PUT, PATCH
	Delete auth.Operation // DELETE
}

// operation returns the operation that guards method. Reads need only an
// authenticated caller, reported as ok == false.
func (p ResourcePolicy) operation(method string) (op auth.Operation, ok bool) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "", false
	case http.MethodPost:
		return p.Create, true
	case http.MethodPut, http.MethodPatch:
		return p.Update, true
	case http.MethodDelete:
		return p.Delete, true
	default:
		return "", true
	}
}

// MountResource attaches h under /api{pattern}. Every request must carry a
// valid access token; mutating methods are additionally checked against
// policy, so a viewer gets 403 on POST /api/trips but can GET it.
//
//	s.MountResource("/trips", server.ResourcePolicy{
//		Create: auth.OpTripCreate,
//		Update: auth.OpTripUpdate,
//		Delete: auth.OpTripDelete,
//	}, tripHandler)
func (s *Server) MountResource(pattern string, policy ResourcePolicy, h http.Handler) {
	s.router.With(s.requireAuth, methodGate(policy)).Mount("/api"+pattern, h)
}

func methodGate(policy ResourcePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, gated := policy.operation(r.Method)
			if !gated {
				next.ServeHTTP(w, r)
				return
			}
			auth.RequirePermission(op)(next).ServeHTTP(w, r)
		})
	}
}
