//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors flags the standard errors package outside internal/errors.
// Errors built there carry component and category for logs and telemetry.
func EnhancedErrors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($msg)`).
		Where(m["msg"].Type.Is("string") && !m.File().PkgPath.Matches(`internal/(errors|conf)$`)).
		Report(`use errors.Newf($msg).Component(...).Category(...).Build() from internal/errors`)
}

// SecretFields flags secrets logged as plain string fields.
func SecretFields(m dsl.Matcher) {
	m.Match(
		`logger.String("token", $v)`,
		`logger.String("access_token", $v)`,
		`logger.String("password", $v)`,
		`logger.String("secret", $v)`,
		`logger.String("apikey", $v)`,
		`logger.String("dsn", $v)`,
	).
		Report("do not log secrets; log logger.RedactSensitiveData($v) or drop the field")
}

// BrokerURLs flags broker and upload URLs logged without redaction, since
// they may carry credentials in their userinfo.
func BrokerURLs(m dsl.Matcher) {
	m.Match(`logger.String("broker", $v)`).
		Where(!m["v"].Text.Matches(`RedactSensitiveData`)).
		Report("wrap the broker URL in logger.RedactSensitiveData")
}
