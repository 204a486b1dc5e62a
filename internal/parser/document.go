package parser

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/hochfrequenz/flowcell-ingest/internal/domain"
)

// Document is a parsed XML metadata file
type Document struct {
	name string
	root *xmlquery.Node
}

// ReadDocument parses XML from r. name is used in error messages.
func ReadDocument(r io.Reader, name string) (*Document, error) {
	root, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrMalformedMetadata, name, err)
	}
	return &Document{name: name, root: root}, nil
}

// ReadDocumentFile opens and parses the XML file at path
func ReadDocumentFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDocument(f, path)
}

// Name returns the name the document was read under
func (d *Document) Name() string {
	return d.name
}

func (d *Document) missing(what string) error {
	return fmt.Errorf("%w: %s: %s missing", domain.ErrMalformedMetadata, d.name, what)
}

func (d *Document) invalid(what, value string) error {
	return fmt.Errorf("%w: %s: %s has invalid value %q", domain.ErrMalformedMetadata, d.name, what, value)
}

// text returns the trimmed text of the first element matching expr
func (d *Document) text(expr string) (string, bool) {
	n := xmlquery.FindOne(d.root, expr)
	if n == nil {
		return "", false
	}
	return strings.TrimSpace(n.InnerText()), true
}

func (d *Document) requireText(expr string) (string, error) {
	s, ok := d.text(expr)
	if !ok {
		return "", d.missing(expr)
	}
	return s, nil
}

func (d *Document) requireInt(expr string) (int, error) {
	s, err := d.requireText(expr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, d.invalid(expr, s)
	}
	return n, nil
}

// requireAttrInt reads an integer attribute of the first element matching expr
func (d *Document) requireAttrInt(expr, name string) (int, error) {
	n := xmlquery.FindOne(d.root, expr)
	if n == nil {
		return 0, d.missing(expr)
	}
	return d.attrInt(n, expr, name)
}

func (d *Document) requireAttr(expr, name string) (string, error) {
	n := xmlquery.FindOne(d.root, expr)
	if n == nil {
		return "", d.missing(expr)
	}
	v, ok := attr(n, name)
	if !ok {
		return "", d.missing(expr + "/@" + name)
	}
	return v, nil
}

func (d *Document) attrInt(n *xmlquery.Node, path, name string) (int, error) {
	v, ok := attr(n, name)
	if !ok {
		return 0, d.missing(path + "/@" + name)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, d.invalid(path+"/@"+name, v)
	}
	return i, nil
}

// all returns every element matching expr in document order
func (d *Document) all(expr string) []*xmlquery.Node {
	return xmlquery.Find(d.root, expr)
}

func attr(n *xmlquery.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
