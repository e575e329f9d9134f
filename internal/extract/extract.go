// Package extract pulls shipment identifiers out of message text.
//
// Extraction is a pure function over already-decoded text: it performs no I/O,
// never returns an error and is safe for concurrent use. A field that cannot
// be found is simply absent from the result.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/sells-group/dealtrack/internal/model"
)

// sep matches the optional "No." / "#" / Hebrew "מס'" qualifier and the
// punctuation between a label and its value.
const sep = `(?:\s*(?:(?:no|nr|num|number)\b\.?|#|מס['׳]?|מספר))?\s*[:#.\-]?\s*`

const (
	refValue    = `[A-Z0-9][A-Z0-9/\-]{2,24}`
	blValue     = `[A-Z0-9][A-Z0-9\-]{5,24}`
	awbValue    = `\d{3}[\s\-]?\d{4}\s?\d{4}`
	clientValue = `[^\n\r,;|]{2,60}`
)

type rule struct {
	field model.Field
	re    *regexp.Regexp
	clean func(string) string // returns "" to reject
	// after rejects a match when the text before the label ends with it.
	after *regexp.Regexp
}

// hebrewStart stands in for a word boundary before Hebrew labels: RE2's \b
// only knows ASCII letters, and Hebrew attaches prepositions to the word
// that follows them.
const hebrewStart = `(?:^|[^\p{L}])`

// labeled builds a case-insensitive pattern for value following one of the
// English or Hebrew labels. Group 1 is the separator, group 2 the value.
func labeled(english, hebrew, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:\b(?:` + english + `)|` + hebrewStart + `(?:` + hebrew + `))(` + sep + `)(` + value + `)`)
}

// named is like labeled but requires an explicit ':' or '-' separator, since
// free-text names would otherwise swallow the following words.
func named(english, hebrew string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:\b(?:` + english + `)|` + hebrewStart + `(?:` + hebrew + `))(\s*[:\-]\s*)(` + clientValue + `)`)
}

// refWordBefore matches a reference word directly preceding a client label,
// as in "אסמכתת לקוח" (client reference).
var refWordBefore = regexp.MustCompile(`(?i)(?:\bref(?:erence)?|\bno\.?|\bnumber|אסמכתת?|סימוכין|מספר|מס['׳]?)\s*$`)

// refWordValue matches a client "name" that is really a reference label.
var refWordValue = regexp.MustCompile(`(?i)^(?:(?:ref(?:erence)?|no|nr|number)\b|(?:אסמכתא|סימוכין|מספר)(?:[^\p{L}]|$))`)

var rules = []rule{
	{model.FieldBLNumbers, labeled(
		`B/L\b|[MH]B/?L\b|BL\b|BOL\b|bill\s+of\s+lading\b`,
		`שטר\s+מטען(?:\s+ימי)?`,
		blValue), cleanRef, nil},
	{model.FieldAWBNumbers, labeled(
		`[MH]?AWB\b|air\s*way\s*bill\b`,
		`שטר\s+מטען\s+אווירי`,
		awbValue), cleanAWB, nil},
	{model.FieldBookingRefs, labeled(
		`booking(?:\s+ref(?:erence)?)?\b|bkg\b`,
		`בוקינג|הזמנת\s+מקום`,
		refValue), cleanRef, nil},
	{model.FieldInvoiceNumbers, labeled(
		`(?:commercial\s+)?invoice\b|inv\b`,
		`חשבונית|חשבון`,
		refValue), cleanRef, nil},
	{model.FieldPONumbers, labeled(
		`P\.O\.|PO\b|purchase\s+order\b`,
		`הזמנת\s+רכש|הזמנה`,
		refValue), cleanRef, nil},
	{model.FieldPackingListRefs, labeled(
		`packing\s+list\b|P/L\b`,
		`רשימת\s+אריזה|מפרט\s+אריזה`,
		refValue), cleanRef, nil},
	{model.FieldInternalRef, labeled(
		`our\s+ref(?:erence)?\b|internal\s+ref(?:erence)?\b`,
		`תיק\s+פנימי|אסמכתא\s+פנימית`,
		refValue), cleanRef, nil},
	{model.FieldClientRef, labeled(
		`(?:your|client|customer)\s+ref(?:erence)?\b`,
		`אסמכתת?\s+לקוח|סימוכין\s+לקוח`,
		refValue), cleanRef, nil},
	{model.FieldJobOrder, labeled(
		`job(?:\s+order)?\b`,
		`פקודת\s+עבודה`,
		refValue), cleanRef, nil},
	{model.FieldFileNumber, labeled(
		`file\b`,
		`מספר\s+תיק|תיק`,
		refValue), cleanRef, nil},
	{model.FieldImportLicense, labeled(
		`import\s+(?:licen[cs]e|permit)\b`,
		`רי?שיון\s+יבוא`,
		refValue), cleanRef, nil},
	{model.FieldExportLicense, labeled(
		`export\s+(?:licen[cs]e|permit)\b`,
		`רי?שיון\s+יצוא`,
		refValue), cleanRef, nil},
	{model.FieldEntryNumber, labeled(
		`(?:customs\s+)?entry\b|declaration\b`,
		`רשימון(?:\s+יבוא)?`,
		refValue), cleanRef, nil},
	{model.FieldClientName, named(
		`client\b|customer\b|consignee\b|importer\b`,
		`שם\s+הלקוח|לקוח|יבואן`), cleanName, refWordBefore},
}

// containerRe is the ISO 6346 surface pattern. It over-matches; every hit is
// confirmed with ValidContainerNumber.
var containerRe = regexp.MustCompile(`\b([A-Z]{3}[UJZ])\s?(\d{6})\s?(\d)\b`)

// Extract returns every identifier found in subject, body and attachment
// text. Array fields are deduplicated; scalar fields keep the first match,
// scanning the subject first, then the body, then attachments in order.
func Extract(subject, body string, attachments ...string) IdentifierSet {
	var set IdentifierSet

	texts := make([]string, 0, 2+len(attachments))
	texts = append(texts, subject, body)
	texts = append(texts, attachments...)

	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		text = width.Fold.String(text)

		for _, m := range containerRe.FindAllStringSubmatch(strings.ToUpper(text), -1) {
			candidate := m[1] + m[2] + m[3]
			if ValidContainerNumber(candidate) {
				set.Add(model.FieldContainerNumbers, candidate)
			}
		}

		for _, r := range rules {
			for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
				if v := r.match(text, m); v != "" {
					set.Add(r.field, v)
				}
			}
		}
	}
	return set
}

// match validates one hit of r.re in text and returns the cleaned value,
// or "" when the hit is rejected. A label glued to its value by a bare
// hyphen ("INV-2024-001") is part of the identifier, not a label.
func (r rule) match(text string, m []int) string {
	if text[m[2]:m[3]] == "-" {
		return ""
	}
	if r.after != nil {
		// A Hebrew label match starts on the boundary character before it.
		before := m[0]
		if c, size := utf8.DecodeRuneInString(text[m[0]:]); !unicode.IsLetter(c) {
			before += size
		}
		if r.after.MatchString(text[:before]) {
			return ""
		}
	}
	return r.clean(text[m[4]:m[5]])
}

// cleanRef trims trailing separators and rejects values without a digit,
// since labels routinely precede ordinary words.
func cleanRef(v string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "-/.")
	if !strings.ContainsFunc(v, unicode.IsDigit) {
		return ""
	}
	return v
}

// cleanAWB normalises an air waybill to PPP-SSSSSSSS.
func cleanAWB(v string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, v)
	if len(digits) != 11 {
		return ""
	}
	return digits[:3] + "-" + digits[3:]
}

// cleanName accepts free-text names that contain at least one letter.
func cleanName(v string) string {
	v = strings.TrimSpace(v)
	if !strings.ContainsFunc(v, unicode.IsLetter) || refWordValue.MatchString(v) {
		return ""
	}
	return v
}
