// Package ifw reads and writes intent firewall rule files, one per package.
package ifw

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Document is the rule file of one package.
// A nil section is absent from the serialized file.
type Document struct {
	XMLName   xml.Name `xml:"rules"`
	Activity  *Section `xml:"activity,omitempty"`
	Broadcast *Section `xml:"broadcast,omitempty"`
	Service   *Section `xml:"service,omitempty"`

	packageName string
	dirty       bool
}

// Section blocks intents to the listed components.
type Section struct {
	Block   bool              `xml:"block,attr"`
	Log     bool              `xml:"log,attr"`
	Filters []ComponentFilter `xml:"component-filter"`
}

// ComponentFilter names a component as "<pkg>/<component>".
type ComponentFilter struct {
	Name string `xml:"name,attr"`
}

// NewDocument returns an empty document for packageName.
func NewDocument(packageName string) *Document {
	return &Document{packageName: packageName}
}

// Parse decodes a rule file. The package name is not part of the XML.
func Parse(packageName string, data []byte) (*Document, error) {
	doc := NewDocument(packageName)
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules of %s: %w", packageName, err)
	}
	return doc, nil
}

// PackageName returns the package the document belongs to.
func (d *Document) PackageName() string {
	return d.packageName
}

// Dirty reports whether the document changed since it was loaded.
func (d *Document) Dirty() bool {
	return d.dirty
}

// Add blocks componentName. It returns false for providers, which the
// intent firewall cannot filter, and when the filter already exists.
func (d *Document) Add(componentName string, t domain.ComponentType) bool {
	section := d.sectionFor(t, true)
	if section == nil {
		return false
	}
	name := domain.FlattenName(d.packageName, componentName)
	for _, f := range section.Filters {
		if f.Name == name {
			return false
		}
	}
	section.Filters = append(section.Filters, ComponentFilter{Name: name})
	d.dirty = true
	return true
}

// Remove deletes every filter for componentName. The type is accepted for
// symmetry with Add but does not scope the removal: a filter filed under
// the wrong section is removed as well.
func (d *Document) Remove(componentName string, _ domain.ComponentType) bool {
	name := domain.FlattenName(d.packageName, componentName)
	removed := false
	for _, s := range d.sections() {
		if s == nil {
			continue
		}
		kept := s.Filters[:0]
		for _, f := range s.Filters {
			if f.Name == name {
				removed = true
				continue
			}
			kept = append(kept, f)
		}
		s.Filters = kept
	}
	if removed {
		d.dirty = true
	}
	return removed
}

// GetEnableState is true when no section filters componentName.
func (d *Document) GetEnableState(componentName string) bool {
	name := domain.FlattenName(d.packageName, componentName)
	for _, s := range d.sections() {
		if s == nil {
			continue
		}
		for _, f := range s.Filters {
			if f.Name == name {
				return false
			}
		}
	}
	return true
}

// Clear drops every section.
func (d *Document) Clear() {
	if !d.IsEmpty() {
		d.dirty = true
	}
	d.Activity, d.Broadcast, d.Service = nil, nil, nil
}

// Prune sets empty sections to nil.
func (d *Document) Prune() {
	if d.Activity != nil && len(d.Activity.Filters) == 0 {
		d.Activity = nil
	}
	if d.Broadcast != nil && len(d.Broadcast.Filters) == 0 {
		d.Broadcast = nil
	}
	if d.Service != nil && len(d.Service.Filters) == 0 {
		d.Service = nil
	}
}

// IsEmpty reports whether no section holds a filter.
func (d *Document) IsEmpty() bool {
	for _, s := range d.sections() {
		if s != nil && len(s.Filters) > 0 {
			return false
		}
	}
	return true
}

// Marshal prunes the document and renders it as indented XML.
func (d *Document) Marshal() ([]byte, error) {
	d.Prune()
	data, err := xml.MarshalIndent(d, "", "   ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules of %s: %w", d.packageName, err)
	}
	return append(data, '\n'), nil
}

// Filters lists the blocked components with the type implied by their section.
// Filters naming another package are skipped.
func (d *Document) Filters() []domain.ComponentRef {
	var refs []domain.ComponentRef
	add := func(s *Section, t domain.ComponentType) {
		if s == nil {
			return
		}
		for _, f := range s.Filters {
			pkg, comp, ok := strings.Cut(f.Name, "/")
			if !ok || comp == "" || (d.packageName != "" && pkg != d.packageName) {
				continue
			}
			refs = append(refs, domain.ComponentRef{PackageName: pkg, ComponentName: comp, Type: t})
		}
	}
	add(d.Activity, domain.ComponentActivity)
	add(d.Broadcast, domain.ComponentReceiver)
	add(d.Service, domain.ComponentService)
	return refs
}

func (d *Document) sections() []*Section {
	return []*Section{d.Activity, d.Broadcast, d.Service}
}

// sectionFor returns the section holding components of type t, creating it when asked.
func (d *Document) sectionFor(t domain.ComponentType, create bool) *Section {
	var slot **Section
	switch t {
	case domain.ComponentActivity:
		slot = &d.Activity
	case domain.ComponentReceiver:
		slot = &d.Broadcast
	case domain.ComponentService:
		slot = &d.Service
	default:
		return nil
	}
	if *slot == nil && create {
		*slot = &Section{Block: true, Log: false}
	}
	return *slot
}
