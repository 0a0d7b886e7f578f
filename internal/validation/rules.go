package validation

import (
	"errors"
	"fmt"
	"strings"

	appErrors "github.com/relialab/docpipe/internal/errors"
)

// Illustrative business rules exercised by the pipeline.
const (
	MaxNameLength = 30
	PDFMime       = "application/pdf"
)

const (
	RuleNameRequired      = "name.required"
	RuleNameMaxLength     = "name.max_length"
	RuleContentType       = "content_type.unsupported"
	RuleExtensionMismatch = "extension.mismatch"
)

// Validate applies the stage rules to a document's declared attributes.
// A failure is a business rejection: terminal, never retried.
func Validate(name, contentType string) error {
	if strings.TrimSpace(name) == "" {
		return appErrors.NewBusinessRejection(RuleNameRequired, "document name must not be blank")
	}
	if len(name) > MaxNameLength {
		return appErrors.NewBusinessRejection(RuleNameMaxLength,
			fmt.Sprintf("document name is %d characters; the limit is %d", len(name), MaxNameLength))
	}
	if contentType != PDFMime {
		return appErrors.NewBusinessRejection(RuleContentType,
			fmt.Sprintf("unsupported content type %q; expected %s", contentType, PDFMime))
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return appErrors.NewBusinessRejection(RuleExtensionMismatch,
			fmt.Sprintf("document name %q does not match content type %s", name, PDFMime))
	}
	return nil
}

// RuleOf extracts the failed rule name from a rejection error.
func RuleOf(err error) string {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return strings.TrimPrefix(appErr.Err.Error(), "rule ")
	}
	return "unknown"
}
