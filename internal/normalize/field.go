package normalize

// FieldState tells whether a scraped field was found and usable.
type FieldState int

const (
	FieldMissing FieldState = iota
	FieldPresent
	FieldMalformed
)

func (s FieldState) String() string {
	switch s {
	case FieldPresent:
		return "present"
	case FieldMalformed:
		return "malformed"
	default:
		return "missing"
	}
}

// Field is one value pulled out of the source markup. Normalization
// switches on State instead of probing the text.
type Field struct {
	State  FieldState
	Text   string
	Reason string
}

func Present(text string) Field { return Field{State: FieldPresent, Text: text} }

func Missing() Field { return Field{State: FieldMissing} }

func Malformed(text, reason string) Field {
	return Field{State: FieldMalformed, Text: text, Reason: reason}
}

// textField wraps extracted text: empty text is Missing.
func textField(text string) Field {
	if text == "" {
		return Missing()
	}
	return Present(text)
}
