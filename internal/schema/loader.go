package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Classes []classDoc `yaml:"classes"`
}

type classDoc struct {
	Name   string     `yaml:"name"`
	Fields []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Keywords   []string `yaml:"keywords"`
	ComposedOf []string `yaml:"composed_of"`
}

// Load reads and parses a schema YAML file. Class ids are assigned in
// declaration order; field numbers are assigned globally across the file
// in declaration order.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a fully indexed File or a non-nil error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a File from schema YAML bytes. See Load.
func Parse(data []byte) (*File, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema yaml: %w", err)
	}
	if len(doc.Classes) == 0 {
		return nil, fmt.Errorf("schema declares no classes")
	}

	file := &File{
		byName: make(map[string]*Class),
		fields: make(map[uint16]*Field),
	}

	var nextField uint16
	for i, cd := range doc.Classes {
		if cd.Name == "" {
			return nil, fmt.Errorf("class %d has no name", i)
		}
		if _, dup := file.byName[cd.Name]; dup {
			return nil, fmt.Errorf("duplicate class %q", cd.Name)
		}

		class := &Class{
			ID:     uint16(i),
			Name:   cd.Name,
			byName: make(map[string]*Field),
		}

		for _, fd := range cd.Fields {
			if fd.Name == "" {
				return nil, fmt.Errorf("class %q has an unnamed field", cd.Name)
			}
			if _, dup := class.byName[fd.Name]; dup {
				return nil, fmt.Errorf("class %q declares field %q twice", cd.Name, fd.Name)
			}
			if fd.Type == "" && len(fd.ComposedOf) == 0 {
				return nil, fmt.Errorf("field %s.%s has neither a type nor components", cd.Name, fd.Name)
			}
			if fd.Type != "" && len(fd.ComposedOf) > 0 {
				return nil, fmt.Errorf("field %s.%s cannot have both a type and components", cd.Name, fd.Name)
			}
			if fd.Type != "" {
				switch fd.Type {
				case TypeUint8, TypeUint16, TypeUint32, TypeUint64, TypeInt32, TypeString, TypeBlob:
				default:
					return nil, fmt.Errorf("field %s.%s has unknown type %q", cd.Name, fd.Name, fd.Type)
				}
			}

			field := &Field{
				Number:     nextField,
				Name:       fd.Name,
				Class:      class,
				Type:       fd.Type,
				Keywords:   fd.Keywords,
				Components: fd.ComposedOf,
			}
			nextField++

			class.Fields = append(class.Fields, field)
			class.byName[fd.Name] = field
			file.fields[field.Number] = field
		}

		for _, f := range class.Fields {
			for _, comp := range f.Components {
				if class.byName[comp] == nil {
					return nil, fmt.Errorf("field %s.%s references unknown component %q", cd.Name, f.Name, comp)
				}
			}
		}

		file.classes = append(file.classes, class)
		file.byName[class.Name] = class
	}

	return file, nil
}
