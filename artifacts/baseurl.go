/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package artifacts

import (
	"context"
	"strings"
)

type baseURLKey struct{}

// WithBaseURL returns a child context carrying the externally visible base URL
// for one request. The parent context is untouched, so discarding the child
// restores whatever value (or absence) was visible before.
func WithBaseURL(ctx context.Context, baseURL string) context.Context {
	return context.WithValue(ctx, baseURLKey{}, NormalizeBaseURL(baseURL))
}

// BaseURLFromContext returns the request-scoped base URL, if one was installed
func BaseURLFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(baseURLKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EffectiveBaseURL resolves the prefix for download links: the request-scoped
// value wins over fallback (the configured default). Empty means relative URLs.
func EffectiveBaseURL(ctx context.Context, fallback string) string {
	if v, ok := BaseURLFromContext(ctx); ok {
		return v
	}
	return NormalizeBaseURL(fallback)
}

// NormalizeBaseURL strips trailing slashes
func NormalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}
