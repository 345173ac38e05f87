package modeset

import (
	"fmt"

	"github.com/NeowayLabs/drm/v2/mode"
)

type property struct {
	name  string
	id    uint32
	value uint64
}

// Object is a claimed connector, CRTC or plane together with its
// property table, fetched once so commits can address properties by
// name. Properties keep the kernel's order; objects have few of them so
// lookups are a linear scan.
type Object struct {
	ID    uint32
	Type  uint32
	props []property
}

func objectTypeName(typ uint32) string {
	switch typ {
	case mode.ObjectConnector:
		return "connector"
	case mode.ObjectCrtc:
		return "crtc"
	case mode.ObjectPlane:
		return "plane"
	case mode.ObjectEncoder:
		return "encoder"
	}
	return "object"
}

// LoadObject fetches the properties of object id and the name of each.
func LoadObject(dev Device, id, typ uint32) (*Object, error) {
	props, err := dev.ObjectProperties(id, typ)
	if err != nil {
		return nil, fmt.Errorf("cannot get %s %d properties: %w", objectTypeName(typ), id, err)
	}

	obj := &Object{ID: id, Type: typ, props: make([]property, 0, len(props.Props))}
	for i, propID := range props.Props {
		info, err := dev.Property(propID)
		if err != nil {
			return nil, fmt.Errorf("cannot get property %d of %s %d: %w",
				propID, objectTypeName(typ), id, err)
		}
		obj.props = append(obj.props, property{
			name:  info.Name,
			id:    propID,
			value: props.Values[i],
		})
	}
	return obj, nil
}

func (o *Object) find(name string) (*property, error) {
	for i := range o.props {
		if o.props[i].name == name {
			return &o.props[i], nil
		}
	}
	return nil, &PropertyError{Object: o.ID, Type: o.Type, Name: name}
}

// Value returns the value property name had when the object was loaded.
func (o *Object) Value(name string) (uint64, error) {
	p, err := o.find(name)
	if err != nil {
		return 0, err
	}
	return p.value, nil
}

// PropertyID returns the kernel id of property name.
func (o *Object) PropertyID(name string) (uint32, error) {
	p, err := o.find(name)
	if err != nil {
		return 0, err
	}
	return p.id, nil
}

// Set adds a write of property name to req. A missing property leaves
// req untouched.
func (o *Object) Set(req *mode.AtomicReq, name string, value uint64) error {
	p, err := o.find(name)
	if err != nil {
		return err
	}
	req.Add(o.ID, p.id, value)
	return nil
}

// Len is the number of cached properties.
func (o *Object) Len() int { return len(o.props) }

func (o *Object) release() {
	o.props = nil
}
