// Package host implements the host side of the execution bridge: the TCP
// listener, the bounded request queue feeding it, and the serialized
// executor that drains the queue against the scene.
package host

import "fmt"

// Object is one item in the scene graph.
type Object struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Location [3]float64 `json:"location"`
	Rotation [3]float64 `json:"rotation"`
	Scale    [3]float64 `json:"scale"`
}

// Scene is the in-memory scene graph mutated by executed scripts.
//
// Scene is NOT thread-safe. All access must go through the executor,
// which serializes mutations by construction.
type Scene struct {
	Name       string
	FrameStart int
	FrameEnd   int
	objects    map[string]*Object
	order      []string
}

// NewScene creates an empty scene with a default frame range.
func NewScene(name string) *Scene {
	return &Scene{
		Name:       name,
		FrameStart: 1,
		FrameEnd:   250,
		objects:    make(map[string]*Object),
	}
}

// AddObject inserts an object of the given type at the given location.
// Names must be unique within the scene.
func (s *Scene) AddObject(name, objType string, location [3]float64) (*Object, error) {
	if name == "" {
		return nil, fmt.Errorf("object name must not be empty")
	}
	if _, exists := s.objects[name]; exists {
		return nil, fmt.Errorf("object %q already exists", name)
	}
	obj := &Object{
		Name:     name,
		Type:     objType,
		Location: location,
		Scale:    [3]float64{1, 1, 1},
	}
	s.objects[name] = obj
	s.order = append(s.order, name)
	return obj, nil
}

// DeleteObject removes an object by name.
func (s *Scene) DeleteObject(name string) error {
	if _, exists := s.objects[name]; !exists {
		return fmt.Errorf("object %q not found", name)
	}
	delete(s.objects, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// MoveObject sets an object's location.
func (s *Scene) MoveObject(name string, location [3]float64) error {
	obj, exists := s.objects[name]
	if !exists {
		return fmt.Errorf("object %q not found", name)
	}
	obj.Location = location
	return nil
}

// Object returns the named object, or nil if absent.
func (s *Scene) Object(name string) *Object {
	return s.objects[name]
}

// Objects returns all objects in insertion order.
func (s *Scene) Objects() []*Object {
	out := make([]*Object, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.objects[name])
	}
	return out
}

// Len returns the number of objects in the scene.
func (s *Scene) Len() int {
	return len(s.objects)
}

// Info flattens scene metadata for wire transport.
func (s *Scene) Info() map[string]any {
	return map[string]any{
		"name":         s.Name,
		"object_count": len(s.objects),
		"frame_start":  s.FrameStart,
		"frame_end":    s.FrameEnd,
	}
}

// ObjectList flattens all objects for wire transport, insertion order.
func (s *Scene) ObjectList() []map[string]any {
	out := make([]map[string]any, 0, len(s.order))
	for _, obj := range s.Objects() {
		out = append(out, map[string]any{
			"name":     obj.Name,
			"type":     obj.Type,
			"location": []float64{obj.Location[0], obj.Location[1], obj.Location[2]},
			"rotation": []float64{obj.Rotation[0], obj.Rotation[1], obj.Rotation[2]},
			"scale":    []float64{obj.Scale[0], obj.Scale[1], obj.Scale[2]},
		})
	}
	return out
}
