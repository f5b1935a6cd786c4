package bundle

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// XML element and attribute names of the markup export.
const (
	xmlBundle       = "bundle"
	xmlData         = "data"
	xmlProperty     = "property"
	xmlValue        = "value"
	xmlRelations    = "relationships"
	xmlRelationship = "relationship"
	xmlName         = "name"
	xmlLabel        = "label"
)

// MarshalXML writes b as a <bundle> element with id and type attributes:
//
//	<bundle id="c1" type="DocumentaryUnit">
//	  <data>
//	    <property name="identifier">c1</property>
//	    <property name="languages"><value>en</value><value>nl</value></property>
//	  </data>
//	  <relationships>
//	    <relationship label="describes">
//	      <bundle id="c1.en" type="DocumentaryUnitDescription">...</bundle>
//	    </relationship>
//	  </relationships>
//	</bundle>
//
// Null values are omitted. Properties are written in key order.
func (b Bundle) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: xmlBundle}
	start.Attr = []xml.Attr{{Name: xml.Name{Local: IDKey}, Value: b.id}}
	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: TypeKey}, Value: string(b.typ)})
	if err := e.EncodeToken(start); err != nil {
		return err
	}

	data := b.Data()
	if len(data) > 0 {
		if err := writeProperties(e, xmlData, data); err != nil {
			return err
		}
	}

	if labels := b.relations.Labels(); len(labels) > 0 {
		rels := xml.StartElement{Name: xml.Name{Local: xmlRelations}}
		if err := e.EncodeToken(rels); err != nil {
			return err
		}
		for _, label := range labels {
			rel := xml.StartElement{
				Name: xml.Name{Local: xmlRelationship},
				Attr: []xml.Attr{{Name: xml.Name{Local: xmlLabel}, Value: label}},
			}
			if err := e.EncodeToken(rel); err != nil {
				return err
			}
			for _, child := range b.relations.items[label] {
				if err := e.EncodeElement(child, xml.StartElement{Name: xml.Name{Local: xmlBundle}}); err != nil {
					return err
				}
			}
			if err := e.EncodeToken(rel.End()); err != nil {
				return err
			}
		}
		if err := e.EncodeToken(rels.End()); err != nil {
			return err
		}
	}

	return e.EncodeToken(start.End())
}

func writeProperties(e *xml.Encoder, wrapper string, data map[string]Value) error {
	el := xml.StartElement{Name: xml.Name{Local: wrapper}}
	if err := e.EncodeToken(el); err != nil {
		return err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeProperty(e, k, data[k]); err != nil {
			return err
		}
	}
	return e.EncodeToken(el.End())
}

func writeProperty(e *xml.Encoder, key string, v Value) error {
	if v.IsNull() {
		return nil
	}
	prop := xml.StartElement{
		Name: xml.Name{Local: xmlProperty},
		Attr: []xml.Attr{{Name: xml.Name{Local: xmlName}, Value: key}},
	}
	if err := e.EncodeToken(prop); err != nil {
		return err
	}
	switch v.kind {
	case KindList:
		for _, item := range v.list {
			if err := e.EncodeElement(item, xml.StartElement{Name: xml.Name{Local: xmlValue}}); err != nil {
				return err
			}
		}
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeProperty(e, k, v.m[k]); err != nil {
				return err
			}
		}
	default:
		if err := e.EncodeToken(xml.CharData(v.String())); err != nil {
			return err
		}
	}
	return e.EncodeToken(prop.End())
}

// ToXML renders b as an indented XML document with an XML header.
func ToXML(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
