package resourcecache

import "strings"

const cacheStatusName = "geonav"

// Forward reasons, from the Cache-Status registry.
const (
	fwdMethod  = "method"
	fwdMiss    = "uri-miss"
	fwdRequest = "request"
)

type cacheStatus struct {
	hit    bool
	fwd    string
	stored bool
	detail string
}

func (cs cacheStatus) String() string {
	var b strings.Builder
	b.WriteString(cacheStatusName)
	if cs.hit {
		b.WriteString("; hit")
	} else if cs.fwd != "" {
		b.WriteString("; fwd=")
		b.WriteString(cs.fwd)
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.detail != "" {
		b.WriteString("; detail=")
		b.WriteString(cs.detail)
	}
	return b.String()
}
