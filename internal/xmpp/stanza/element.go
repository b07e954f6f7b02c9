// Package stanza provides the generic element tree handed between the
// transport and the protocol handlers, plus builders for the stanzas the
// engine sends.
package stanza

import (
	"encoding/xml"
	"strings"
)

// Element is a parsed XML element. Name.Space holds the resolved namespace.
type Element struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// NewElement returns an element in the given namespace. An empty space
// inherits the parent's default namespace when serialized.
func NewElement(space, local string) *Element {
	return &Element{Name: xml.Name{Space: space, Local: local}}
}

// Parse decodes a single element from s.
func Parse(s string) (*Element, error) {
	var el Element
	if err := xml.Unmarshal([]byte(s), &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// Attr returns the value of an unqualified attribute.
func (e *Element) Attr(local string) string {
	v, _ := e.AttrOK(local)
	return v
}

// AttrOK returns an unqualified attribute and whether it was present.
func (e *Element) AttrOK(local string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets an unqualified attribute. Empty values remove it.
func (e *Element) SetAttr(local, value string) *Element {
	for i, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			if value == "" {
				e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			} else {
				e.Attrs[i].Value = value
			}
			return e
		}
	}
	if value != "" {
		e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	}
	return e
}

// Child returns the first child with the given local name.
func (e *Element) Child(local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name.Local == local {
			return c
		}
	}
	return nil
}

// ChildNS returns the first child with the given namespace and local name.
func (e *Element) ChildNS(space, local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name.Local == local && c.Name.Space == space {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child with the given local name.
func (e *Element) ChildrenNamed(local string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name.Local == local {
			out = append(out, c)
		}
	}
	return out
}

// ChildText returns the trimmed text of the first child named local.
func (e *Element) ChildText(local string) string {
	c := e.Child(local)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text)
}

// Add appends children and returns e.
func (e *Element) Add(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// AddChild appends a new child and returns it.
func (e *Element) AddChild(space, local string) *Element {
	c := NewElement(space, local)
	e.Children = append(e.Children, c)
	return c
}

// AddTextChild appends <local>text</local> in the parent namespace.
func (e *Element) AddTextChild(local, text string) *Element {
	c := e.AddChild("", local)
	c.Text = text
	return c
}

// SetText replaces the character data.
func (e *Element) SetText(text string) *Element {
	e.Text = text
	return e
}

// String serializes the element. Serialization errors yield an empty string.
func (e *Element) String() string {
	b, err := xml.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name
	e.Attrs = e.Attrs[:0]
	for _, a := range start.Attr {
		if isNamespaceDecl(a.Name) {
			continue
		}
		e.Attrs = append(e.Attrs, a)
	}

	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.Children = append(e.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			e.Text = text.String()
			return nil
		}
	}
}

// MarshalXML implements xml.Marshaler.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: e.Name, Attr: e.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func isNamespaceDecl(n xml.Name) bool {
	return n.Space == "xmlns" || (n.Space == "" && n.Local == "xmlns")
}
