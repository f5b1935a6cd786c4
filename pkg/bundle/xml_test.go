package bundle

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bundledb/pkg/entity"
)

func TestToXML(t *testing.T) {
	b := testUnit().
		WithID("c1").
		WithDataValue("testarray", ListValue("one", "two", "three")).
		WithDataValue("itemWithLt", StringValue("I should be escaped because of: <>"))

	data, err := ToXML(b)
	require.NoError(t, err)
	doc := string(data)

	assert.True(t, strings.HasPrefix(doc, xml.Header))
	assert.Contains(t, doc, `<bundle id="c1" type="DocumentaryUnit">`)
	assert.Contains(t, doc, `<value>two</value>`)
	assert.Contains(t, doc, `I should be escaped because of: &lt;&gt;`)
	assert.Contains(t, doc, `<relationship label="describes">`)
	assert.Contains(t, doc, `<property name="extentItems">12</property>`)

	// the document must be well formed
	var root struct {
		XMLName xml.Name `xml:"bundle"`
		ID      string   `xml:"id,attr"`
		Type    string   `xml:"type,attr"`
	}
	require.NoError(t, xml.Unmarshal(data, &root))
	assert.Equal(t, "c1", root.ID)
	assert.Equal(t, string(entity.DocumentaryUnit), root.Type)
}

func TestToXML_NestedMap(t *testing.T) {
	b := New(entity.UnknownProperty).WithDataValue("extra", MapValue(map[string]Value{
		"b": StringValue("2"),
		"a": StringValue("1"),
	}))
	data, err := ToXML(b)
	require.NoError(t, err)
	doc := string(data)
	assert.Less(t, strings.Index(doc, `name="a"`), strings.Index(doc, `name="b"`))
}
