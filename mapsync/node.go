package mapsync

import (
	"encoding/json"
	"fmt"
)

type NodeProperty = string

// top level node properties. Updates are tracked at this granularity.
const (
	PropertyParent      NodeProperty = "parent"
	PropertyName        NodeProperty = "name"
	PropertyCoordinates NodeProperty = "coordinates"
	PropertyColors      NodeProperty = "colors"
	PropertyFont        NodeProperty = "font"
	PropertyImage       NodeProperty = "image"
	PropertyLink        NodeProperty = "link"
	PropertyLocked      NodeProperty = "locked"
	PropertyIsRoot      NodeProperty = "isRoot"
	PropertyDetached    NodeProperty = "detached"
	PropertyHidden      NodeProperty = "hidden"
	PropertyK           NodeProperty = "k"
)

// every property except the id, in a stable order
var NodeProperties = []NodeProperty{
	PropertyParent,
	PropertyName,
	PropertyCoordinates,
	PropertyColors,
	PropertyFont,
	PropertyImage,
	PropertyLink,
	PropertyLocked,
	PropertyIsRoot,
	PropertyDetached,
	PropertyHidden,
	PropertyK,
}

type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeColors struct {
	Name       string `json:"name"`
	Background string `json:"background"`
	Branch     string `json:"branch"`
}

type NodeFont struct {
	Size       float64 `json:"size"`
	Style      string  `json:"style"`
	Weight     string  `json:"weight"`
	Decoration string  `json:"decoration"`
}

type NodeImage struct {
	Src  string  `json:"src"`
	Size float64 `json:"size"`
}

type NodeLink struct {
	Href string `json:"href"`
}

// comparable
// `Parent` is empty for the root. `K` is a rendering hint only.
type NodeRecord struct {
	Id          string      `json:"id" validate:"required"`
	Parent      string      `json:"parent"`
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	Colors      NodeColors  `json:"colors"`
	Font        NodeFont    `json:"font"`
	Image       NodeImage   `json:"image"`
	Link        NodeLink    `json:"link"`
	Locked      bool        `json:"locked"`
	IsRoot      bool        `json:"isRoot"`
	Detached    bool        `json:"detached"`
	Hidden      bool        `json:"hidden"`
	K           float64     `json:"k"`
}

func NewRootNode(id string, name string) *NodeRecord {
	return &NodeRecord{
		Id:     id,
		Name:   name,
		IsRoot: true,
		K:      1,
	}
}

func (self *NodeRecord) Clone() *NodeRecord {
	node := *self
	return &node
}

func (self *NodeRecord) IsValidProperty(property NodeProperty) bool {
	_, err := self.Property(property)
	return err == nil
}

func (self *NodeRecord) Property(property NodeProperty) (any, error) {
	switch property {
	case PropertyParent:
		return self.Parent, nil
	case PropertyName:
		return self.Name, nil
	case PropertyCoordinates:
		return self.Coordinates, nil
	case PropertyColors:
		return self.Colors, nil
	case PropertyFont:
		return self.Font, nil
	case PropertyImage:
		return self.Image, nil
	case PropertyLink:
		return self.Link, nil
	case PropertyLocked:
		return self.Locked, nil
	case PropertyIsRoot:
		return self.IsRoot, nil
	case PropertyDetached:
		return self.Detached, nil
	case PropertyHidden:
		return self.Hidden, nil
	case PropertyK:
		return self.K, nil
	default:
		return nil, fmt.Errorf("Unknown node property: %s", property)
	}
}

// `value` may be the typed value, or any json compatible value decoded off the wire
func (self *NodeRecord) SetProperty(property NodeProperty, value any) error {
	switch property {
	case PropertyParent:
		return assignProperty(&self.Parent, value)
	case PropertyName:
		return assignProperty(&self.Name, value)
	case PropertyCoordinates:
		return assignProperty(&self.Coordinates, value)
	case PropertyColors:
		return assignProperty(&self.Colors, value)
	case PropertyFont:
		return assignProperty(&self.Font, value)
	case PropertyImage:
		return assignProperty(&self.Image, value)
	case PropertyLink:
		return assignProperty(&self.Link, value)
	case PropertyLocked:
		return assignProperty(&self.Locked, value)
	case PropertyIsRoot:
		return assignProperty(&self.IsRoot, value)
	case PropertyDetached:
		return assignProperty(&self.Detached, value)
	case PropertyHidden:
		return assignProperty(&self.Hidden, value)
	case PropertyK:
		return assignProperty(&self.K, value)
	default:
		return fmt.Errorf("Unknown node property: %s", property)
	}
}

// the json encoding of a single property, as stored in the crdt replica
func (self *NodeRecord) PropertyJson(property NodeProperty) (string, error) {
	value, err := self.Property(property)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (self *NodeRecord) SetPropertyJson(property NodeProperty, valueJson string) error {
	return self.SetProperty(property, json.RawMessage(valueJson))
}

func assignProperty[T any](field *T, value any) error {
	switch v := value.(type) {
	case T:
		*field = v
		return nil
	case *T:
		if v == nil {
			var zero T
			*field = zero
		} else {
			*field = *v
		}
		return nil
	case nil:
		// null on the wire, e.g. the root's parent
		var zero T
		*field = zero
		return nil
	case json.RawMessage:
		var next T
		if err := json.Unmarshal(v, &next); err != nil {
			return err
		}
		*field = next
		return nil
	default:
		// values decoded into `any` (map[string]any, float64, ...)
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var next T
		if err := json.Unmarshal(b, &next); err != nil {
			return err
		}
		*field = next
		return nil
	}
}
