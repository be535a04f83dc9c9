package job

import (
	"fmt"
	"net/url"
	"orca/internal/apperrors"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Validation limits
const (
	MinBriefLength    = 10
	MaxBriefLength    = 5000
	maxJobIDLength    = 128
	maxOwnerLength    = 128
	maxProductNameLen = 256
)

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// localePattern is language-region, e.g. en-US.
var localePattern = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// KnownPlatforms is the fixed set of target platforms, in canonical form.
var KnownPlatforms = []string{"instagram", "linkedin", "twitter", "facebook", "blog", "newsletter"}

// Prepare normalizes a submission and validates it at the submission boundary.
// Platform names are lower-cased with duplicates dropped, and an attached
// Meta without a locale gets DefaultLocale.
func Prepare(req *Request) error {
	applyDefaults(req)
	return Validate(req)
}

func applyDefaults(req *Request) {
	req.JobID = strings.TrimSpace(req.JobID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.Meta == nil {
		return
	}
	if req.Meta.Locale == "" {
		req.Meta.Locale = DefaultLocale
	}
	req.Meta.TargetPlatforms = NormalizePlatforms(req.Meta.TargetPlatforms)
}

// NormalizePlatforms lower-cases platform names, keeping first-seen order and dropping duplicates.
func NormalizePlatforms(in Platforms) Platforms {
	if in == nil {
		return nil
	}
	out := make(Platforms, 0, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Validate checks a submission. Does not modify the request.
func Validate(req *Request) error {
	if req.JobID != "" {
		if len(req.JobID) > maxJobIDLength {
			return apperrors.Validation("job_id", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
		}
		if !jobIDPattern.MatchString(req.JobID) {
			return apperrors.Validation("job_id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
		}
	}
	if len(req.UserID) > maxOwnerLength {
		return apperrors.Validation("user_id", fmt.Sprintf("user ID exceeds maximum length of %d", maxOwnerLength))
	}

	if err := ValidateBrief(req.TextPrompt); err != nil {
		return err
	}

	if req.ImageURL != "" {
		if err := ValidateURL(req.ImageURL); err != nil {
			return apperrors.Validation("image_url", fmt.Sprintf("invalid image URL: %v", err))
		}
	}

	if req.Meta == nil {
		return nil
	}
	if len(req.Meta.ProductName) > maxProductNameLen {
		return apperrors.Validation("meta.product_name", fmt.Sprintf("product name exceeds maximum length of %d", maxProductNameLen))
	}
	if req.Meta.Locale != "" {
		if err := ValidateLocale(req.Meta.Locale); err != nil {
			return err
		}
	}
	for _, p := range req.Meta.TargetPlatforms {
		if !slices.Contains(KnownPlatforms, strings.ToLower(p)) {
			return apperrors.Validation("meta.target_platforms",
				fmt.Sprintf("invalid platform %q, must be one of: %s", p, strings.Join(KnownPlatforms, ", ")))
		}
	}
	if req.Meta.BrandGuidelinesURL != "" {
		if err := ValidateURL(req.Meta.BrandGuidelinesURL); err != nil {
			return apperrors.Validation("meta.brand_guidelines_url", fmt.Sprintf("invalid brand guidelines URL: %v", err))
		}
	}
	return nil
}

// ValidateBrief checks the brief length bounds. The minimum applies to the
// trimmed text, the maximum to the raw text.
func ValidateBrief(text string) error {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinBriefLength {
		return apperrors.Validation("text_prompt", fmt.Sprintf("text prompt must be at least %d characters long", MinBriefLength))
	}
	if utf8.RuneCountInString(text) > MaxBriefLength {
		return apperrors.Validation("text_prompt", fmt.Sprintf("text prompt exceeds maximum length of %d characters", MaxBriefLength))
	}
	return nil
}

// ValidateLocale checks that locale has the xx-XX form. It is stricter than
// the pattern alone: the language must be a known ISO 639-1 code and the
// region a known ISO 3166-1 code, so a well-formed "xx-US" is still rejected.
func ValidateLocale(locale string) error {
	if !localePattern.MatchString(locale) {
		return apperrors.Validation("meta.locale", fmt.Sprintf("invalid locale format %q, expected language-region such as en-US", locale))
	}
	base, region, _ := strings.Cut(locale, "-")
	if _, err := language.ParseBase(base); err != nil {
		return apperrors.Validation("meta.locale", fmt.Sprintf("locale %q has the language-region form but %q is not a known language code", locale, base))
	}
	if _, err := language.ParseRegion(region); err != nil {
		return apperrors.Validation("meta.locale", fmt.Sprintf("locale %q has the language-region form but %q is not a known region code", locale, region))
	}
	return nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
