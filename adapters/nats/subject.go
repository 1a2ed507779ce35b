package nats

import "strings"

const defaultSubjectPrefix = "events"

// subjectFor derives the routing subject for one event. Tenant isolation is
// encoded in the subject itself, so consumers subscribe to their tenant's
// token and never filter other tenants' traffic in handler code.
func subjectFor(prefix, tenantID, aggregateType, eventType string) string {
	return prefix + "." + token(tenantID) + "." + token(aggregateType) + "." + token(eventType)
}

// SubjectFilter builds a subscription filter. Empty tenantID, aggregateType
// or eventType match everything at that level.
func SubjectFilter(prefix, tenantID, aggregateType, eventType string) string {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return prefix + "." + wildcard(tenantID) + "." + wildcard(aggregateType) + "." + wildcard(eventType)
}

func wildcard(s string) string {
	if s == "" {
		return "*"
	}
	return token(s)
}

// token makes s safe to use as a NATS subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}
