package result

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorCategory represents the classification of a crawl error.
type ErrorCategory string

const (
	CategoryScopeRejection     ErrorCategory = "scope_rejection"
	CategoryTransientNetwork   ErrorCategory = "transient_network"
	CategoryContentRejection   ErrorCategory = "content_rejection"
	CategoryAuthRequired       ErrorCategory = "auth_required"
	CategoryForbidden          ErrorCategory = "forbidden"
	CategoryHTTPStatus         ErrorCategory = "http_status"
	CategoryMalformedSitemap   ErrorCategory = "malformed_sitemap"
	CategoryPDFValidation      ErrorCategory = "pdf_validation_failure"
	CategoryAggregationCorrupt ErrorCategory = "aggregation_input_corrupt"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryDNSFailure         ErrorCategory = "dns_failure"
	CategoryConnectionRefused  ErrorCategory = "connection_refused"
	CategoryUnknown            ErrorCategory = "unknown"
)

// ClassifyError determines the error category from a navigation error and
// the HTTP status code. Status codes win over errors.
func ClassifyError(err error, statusCode int) ErrorCategory {
	switch {
	case statusCode == http.StatusUnauthorized:
		return CategoryAuthRequired
	case statusCode == http.StatusForbidden:
		return CategoryForbidden
	case statusCode >= 400:
		return CategoryHTTPStatus
	}

	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryDNSFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" && strings.Contains(opErr.Error(), "connection refused") {
			return CategoryConnectionRefused
		}
		if opErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryTransientNetwork
	}

	return CategoryUnknown
}

// FormatCategory returns a human-readable label for an error category.
func FormatCategory(cat ErrorCategory) string {
	switch cat {
	case CategoryScopeRejection:
		return "Out of Scope"
	case CategoryTransientNetwork:
		return "Network Errors"
	case CategoryContentRejection:
		return "Unsupported Content"
	case CategoryAuthRequired:
		return "Authentication Required"
	case CategoryForbidden:
		return "Forbidden"
	case CategoryHTTPStatus:
		return "HTTP Errors"
	case CategoryMalformedSitemap:
		return "Malformed Sitemaps"
	case CategoryPDFValidation:
		return "PDF Validation Failures"
	case CategoryAggregationCorrupt:
		return "Corrupt Records"
	case CategoryTimeout:
		return "Timeouts"
	case CategoryDNSFailure:
		return "DNS Failures"
	case CategoryConnectionRefused:
		return "Connection Refused"
	default:
		return "Other Errors"
	}
}
