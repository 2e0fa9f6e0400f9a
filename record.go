package etcdstore

import "time"

// Cookie is the cookie state a session middleware keeps alongside the
// session values.
type Cookie struct {
	// MaxAge is the remaining cookie lifetime in milliseconds. When set and
	// no TTL override is configured it determines the lease duration.
	MaxAge *int64 `json:"maxAge,omitempty"`

	Expires  *time.Time `json:"expires,omitempty"`
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"httpOnly,omitempty"`
	SameSite string     `json:"sameSite,omitempty"`
}

// Record is a session as persisted in the store.
type Record struct {
	Cookie Cookie         `json:"cookie"`
	Values map[string]any `json:"values,omitempty"`
}

// MaxAge returns a pointer to ms, for use in Cookie literals.
func MaxAge(ms int64) *int64 {
	return &ms
}
