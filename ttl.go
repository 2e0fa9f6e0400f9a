package etcdstore

import (
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultTTL is the lease duration, in seconds, used when neither a TTL
	// override nor a cookie max age is available.
	DefaultTTL int64 = 86400

	// MaxLeaseTTL is the longest lease etcd will grant, in seconds. Longer
	// durations are capped to it.
	MaxLeaseTTL int64 = 9_000_000_000
)

// TTL is a lease duration override. It is one of Fixed, FixedString,
// Computed or Invalid; a nil TTL means no override is configured and the
// cookie max age decides.
type TTL interface {
	isTTL()
}

// Fixed is a lease duration in seconds.
type Fixed int64

// FixedString is a lease duration in seconds written as text, as it comes
// out of configuration files and environment variables.
type FixedString string

// Computed derives the lease duration in seconds for each write.
type Computed func(s *Store, rec *Record, sid string) int64

// Invalid holds a configured value that cannot describe a duration.
// Resolving it fails with a TTLTypeError.
type Invalid struct {
	Value any
}

func (Fixed) isTTL()       {}
func (FixedString) isTTL() {}
func (Computed) isTTL()    {}
func (Invalid) isTTL()     {}

// ParseTTL maps a raw configuration value onto a TTL. Integers and floats
// become Fixed, strings FixedString and functions Computed. nil, false and
// the empty string mean "not configured". Anything else becomes Invalid.
func ParseTTL(v any) TTL {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if !t {
			return nil
		}
		return Invalid{Value: v}
	case Computed:
		if t == nil {
			return Invalid{Value: v}
		}
		return t
	case TTL:
		return t
	case int:
		return Fixed(t)
	case int8:
		return Fixed(t)
	case int16:
		return Fixed(t)
	case int32:
		return Fixed(t)
	case int64:
		return Fixed(t)
	case uint:
		return fixedUint(uint64(t))
	case uint8:
		return Fixed(t)
	case uint16:
		return Fixed(t)
	case uint32:
		return Fixed(t)
	case uint64:
		return fixedUint(t)
	case float32:
		return fixedFloat(float64(t), v)
	case float64:
		return fixedFloat(t, v)
	case string:
		if t == "" {
			return nil
		}
		return FixedString(t)
	case func(*Store, *Record, string) int64:
		if t == nil {
			return Invalid{Value: v}
		}
		return Computed(t)
	default:
		return Invalid{Value: v}
	}
}

func fixedUint(u uint64) TTL {
	if u > uint64(MaxLeaseTTL) {
		return Fixed(MaxLeaseTTL)
	}
	return Fixed(u)
}

func fixedFloat(f float64, raw any) TTL {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Invalid{Value: raw}
	}
	return Fixed(floatSeconds(f))
}

// floatSeconds floors f into [-MaxLeaseTTL, MaxLeaseTTL].
func floatSeconds(f float64) int64 {
	switch {
	case f >= float64(MaxLeaseTTL):
		return MaxLeaseTTL
	case f <= -float64(MaxLeaseTTL):
		return -MaxLeaseTTL
	}
	return int64(math.Floor(f))
}

// getTTL resolves the lease duration for writing rec under sid.
func (s *Store) getTTL(rec *Record, sid string) (int64, error) {
	var ttl int64

	switch t := s.ttl.(type) {
	case nil:
		ttl = cookieTTL(rec)
	case Fixed:
		ttl = int64(t)
	case FixedString:
		if t == "" {
			return cookieTTL(rec), nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, &TTLTypeError{Value: string(t)}
		}
		ttl = floatSeconds(f)
	case Computed:
		ttl = t(s, rec, sid)
	case Invalid:
		return 0, &TTLTypeError{Value: t.Value}
	default:
		return 0, &TTLTypeError{Value: t}
	}

	return min(ttl, MaxLeaseTTL), nil
}

// cookieTTL is the lease duration used when no override is configured.
func cookieTTL(rec *Record) int64 {
	if rec != nil && rec.Cookie.MaxAge != nil {
		return min(floorDiv(*rec.Cookie.MaxAge, 1000), MaxLeaseTTL)
	}
	return DefaultTTL
}

// floorDiv divides rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
