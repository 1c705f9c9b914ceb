// Package admit decides at queue time whether a ping may enter the spool.
package admit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Floorp-Projects/Floorp-sub093/internal/ping"
)

// SkipReason is returned by filters when a ping should not be queued.
type SkipReason struct {
	Filter string
	Detail string
}

func (s *SkipReason) Error() string {
	return fmt.Sprintf("%s: %s", s.Filter, s.Detail)
}

// Filter evaluates a ping and returns nil to pass or a SkipReason to reject.
type Filter func(p *ping.Ping) *SkipReason

// Pipeline chains multiple filters. Returns the first SkipReason encountered, or nil if all pass.
func Pipeline(filters []Filter, p *ping.Ping) *SkipReason {
	for _, f := range filters {
		if reason := f(p); reason != nil {
			return reason
		}
	}
	return nil
}

// CollectionEnabled rejects every ping while collection is switched off.
func CollectionEnabled(enabled bool) Filter {
	return func(p *ping.Ping) *SkipReason {
		if !enabled {
			return &SkipReason{"collection_disabled", "telemetry collection is disabled"}
		}
		return nil
	}
}

// TypeAllow passes only pings whose type is in the configured set.
func TypeAllow(allowed ...string) Filter {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return func(p *ping.Ping) *SkipReason {
		if !set[p.Type] {
			return &SkipReason{"type", fmt.Sprintf("type=%s not in allowed set", p.Type)}
		}
		return nil
	}
}

// BodyRequired rejects pings with an empty or whitespace-only body.
func BodyRequired() Filter {
	return func(p *ping.Ping) *SkipReason {
		if len(strings.TrimSpace(string(p.Body))) == 0 {
			return &SkipReason{"body", "empty body"}
		}
		return nil
	}
}

// MaxBodySize rejects bodies larger than limit bytes. A limit of zero
// disables the filter.
func MaxBodySize(limit int) Filter {
	return func(p *ping.Ping) *SkipReason {
		if limit > 0 && len(p.Body) > limit {
			return &SkipReason{"size", fmt.Sprintf("body=%d bytes exceeds limit %d", len(p.Body), limit)}
		}
		return nil
	}
}

// JSONBody rejects bodies that are not a single valid JSON document.
func JSONBody() Filter {
	return func(p *ping.Ping) *SkipReason {
		if !json.Valid(p.Body) {
			return &SkipReason{"json", "body is not valid JSON"}
		}
		return nil
	}
}

// UploadPathPrefix passes only pings whose upload path starts with prefix.
func UploadPathPrefix(prefix string) Filter {
	return func(p *ping.Ping) *SkipReason {
		if !strings.HasPrefix(p.UploadPath, prefix) {
			return &SkipReason{"path", fmt.Sprintf("path=%s outside %s", p.UploadPath, prefix)}
		}
		return nil
	}
}
