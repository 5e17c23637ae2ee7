//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern that wg.Go replaces.
//
//	wg.Add(1)
//	go func() { defer wg.Done(); work() }()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext flags context.Background and context.TODO in tests. t.Context
// is cancelled when the test ends, which stops goroutines the test started.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`context.Background()`,
		`context.TODO()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`) && !m.File().Name.Matches(`integration_test\.go$`)).
		Report("prefer t.Context() in tests; use context.Background() only in cleanups")
}

// TimeDateTimeConstants flags the reference layouts that have named constants.
func TimeDateTimeConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime)`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly)`).
		Suggest(`$t.Format(time.DateOnly)`)
}

// StringsSplitIteration flags ranging over strings.Split, which allocates the
// whole slice when strings.SplitSeq would do.
func StringsSplitIteration(m dsl.Matcher) {
	m.Match(`for $_, $part := range strings.Split($s, $sep) { $*body }`).
		Report(`use for $part := range strings.SplitSeq($s, $sep)`)

	m.Match(`for $_, $line := range strings.Split($s, "\n") { $*body }`).
		Report(`use for $line := range strings.Lines($s)`)
}

// SortToSlices flags sort helpers that the slices package replaces.
func SortToSlices(m dsl.Matcher) {
	m.Match(`sort.Strings($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Ints($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, func($i, $j int) bool { return $s[$i] < $s[$j] })`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")
}

// MinMaxBuiltin flags float round trips through math.Min and math.Max.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b)").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b)").
		Suggest("max($a, $b)")
}

// JoinHostPort flags host:port formatting that breaks on IPv6 literals.
func JoinHostPort(m dsl.Matcher) {
	m.Match(
		`fmt.Sprintf("%s:%d", $host, $port)`,
		`fmt.Sprintf("%v:%d", $host, $port)`,
	).
		Report("use net.JoinHostPort($host, strconv.Itoa($port))")
}
