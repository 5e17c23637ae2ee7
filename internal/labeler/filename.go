package labeler

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/carnet-go/internal/classify"
)

// Marker separates the original stem from the recognition fields.
const Marker = "_baidu_"

// sentinel fills a missing or failed choice.
var sentinel = classify.Choice{Name: "None", Score: 0, Year: classify.IntYear(0)}

// IsLabelled reports whether name already carries recognition fields.
func IsLabelled(name string) bool {
	return strings.Contains(name, Marker)
}

// SplitName returns the part before the first dot and the part after the
// last dot. A name without a dot is returned as both.
func SplitName(name string) (stem, ext string) {
	first := strings.IndexByte(name, '.')
	if first < 0 {
		return name, name
	}
	return name[:first], name[strings.LastIndexByte(name, '.')+1:]
}

// LabelledName encodes the two best choices into name as
// <stem>_baidu_<l1>_<s1>_<y1>_<l2>_<s2>_<y2>.<ext>. Missing choices use
// None_0.0_0.
func LabelledName(name string, choices []classify.Choice) string {
	stem, ext := SplitName(name)
	first, second := sentinel, sentinel
	if len(choices) > 0 {
		first = choices[0]
	}
	if len(choices) > 1 {
		second = choices[1]
	}

	var b strings.Builder
	b.WriteString(stem)
	b.WriteString(Marker)
	writeChoice(&b, first)
	b.WriteByte('_')
	writeChoice(&b, second)
	b.WriteByte('.')
	b.WriteString(ext)
	return b.String()
}

// SentinelName is the name given to files the service could not classify.
func SentinelName(name string) string {
	return LabelledName(name, nil)
}

func writeChoice(b *strings.Builder, c classify.Choice) {
	b.WriteString(cleanLabel(c.Name))
	b.WriteByte('_')
	b.WriteString(FormatScore(c.Score))
	b.WriteByte('_')
	b.WriteString(cleanLabel(c.Year.String()))
}

// FormatScore writes score with 12 significant digits, switching to
// exponent form below 1e-4. Plain integers keep a trailing ".0", so
// 0.99972456693649 is "0.999724566936", 5.1e-05 is "5.1e-05" and 1 is "1.0".
func FormatScore(score float64) string {
	s := strconv.FormatFloat(score, 'g', 12, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

var separatorReplacer = strings.NewReplacer("/", "-", `\`, "-")

func cleanLabel(s string) string {
	return separatorReplacer.Replace(norm.NFC.String(s))
}
