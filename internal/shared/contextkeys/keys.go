package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "trip-planner context key " + string(c)
}

// UserIDKey is the key for the authenticated user id in context.Context
const UserIDKey = contextKey("userID")

// UserRoleKey is the key for the authenticated user role in context.Context
const UserRoleKey = contextKey("userRole")

// RequestIDKey is the key for the per-request correlation id
const RequestIDKey = contextKey("requestID")

// ClaimsKey holds the verified access token claims
const ClaimsKey = contextKey("claims")

// ComponentKey names the component that produced a log line
const ComponentKey = contextKey("component")

// OperationKey names the operation being performed
const OperationKey = contextKey("operation")

// PathKey is the backend path an operation targets
const PathKey = contextKey("path")
