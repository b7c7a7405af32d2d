package tree

// Dictionary interns one metadata field's values into dense integer codes.
// Values are the raw JSON encodings of the field; codes are assigned in
// first-seen order, so encoding is monotonic and repeated values reuse
// their code.
type Dictionary struct {
	codes  map[string]int32
	values []string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]int32)}
}

// Encode returns the code for value, assigning the next sequential code if
// the value has not been seen before.
func (d *Dictionary) Encode(value string) int32 {
	if code, ok := d.codes[value]; ok {
		return code
	}
	code := int32(len(d.values))
	d.codes[value] = code
	d.values = append(d.values, value)
	return code
}

// Decode returns the original value for code.
func (d *Dictionary) Decode(code int32) (string, bool) {
	if code < 0 || int(code) >= len(d.values) {
		return "", false
	}
	return d.values[code], true
}

// Len returns the number of distinct values interned so far.
func (d *Dictionary) Len() int { return len(d.values) }
