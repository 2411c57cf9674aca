package flow

import (
	"strings"

	"github.com/jmorenobl/soni/dialogue"
)

// Interpolate substitutes {slot_name} placeholders in a template with the
// flow instance's slot values. Missing slots render as empty strings; each
// missing name is reported through onMissing so callers can log a warning.
// A doubled brace escapes a literal brace.
func Interpolate(template string, slots dialogue.Slots, onMissing func(name string)) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			if c == '}' && i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			b.WriteByte(c)
			i++
			continue
		}

		if i+1 < len(template) && template[i+1] == '{' {
			b.WriteByte('{')
			i += 2
			continue
		}

		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			b.WriteString(template[i:])
			break
		}

		name := template[i+1 : i+end]
		value, ok := slots[name]
		if !ok {
			if onMissing != nil {
				onMissing(name)
			}
		} else {
			b.WriteString(asString(value))
		}
		i += end + 1
	}

	return b.String()
}
