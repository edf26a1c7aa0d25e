package lookup

import (
	"html"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// RenderHTML converts a JSON document into nested key/value tables, keeping
// the source key order: every member becomes <tr><td>key</td><td>value</td></tr>,
// objects and arrays become nested tables, array members are keyed by index.
func RenderHTML(doc string) string {
	var sb strings.Builder
	writeValue(&sb, gjson.Parse(doc))
	return sb.String()
}

func writeValue(sb *strings.Builder, v gjson.Result) {
	if !v.IsObject() && !v.IsArray() {
		if v.Type != gjson.Null {
			sb.WriteString(html.EscapeString(v.String()))
		}
		return
	}

	isArray := v.IsArray()
	idx := 0
	sb.WriteString("<table>")
	v.ForEach(func(key, value gjson.Result) bool {
		label := key.String()
		if isArray {
			label = strconv.Itoa(idx)
			idx++
		}
		sb.WriteString("<tr><td>")
		sb.WriteString(html.EscapeString(label))
		sb.WriteString("</td><td>")
		writeValue(sb, value)
		sb.WriteString("</td></tr>")
		return true
	})
	sb.WriteString("</table>")
}
